package output

import (
	"encoding/json"

	"github.com/jaxxstorm/hopwatch/internal/pipeline"
)

func RenderJSON(result pipeline.Result) (string, error) {
	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
