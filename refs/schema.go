package refs

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Schema returns the JSON Schema describing the profile file.
func Schema() ([]byte, error) {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	s := r.Reflect(&File{})
	s.Title = "XRCE agent reference profiles"
	return json.MarshalIndent(s, "", "  ")
}
