package channel

import (
	"encoding/json"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/hay-kot/weave/internal/core/werr"
)

// CompileSchema compiles a draft-4 JSON schema, rejecting documents that are
// not valid schemas.
func CompileSchema(raw json.RawMessage) (*gojsonschema.Schema, error) {
	sl := gojsonschema.NewSchemaLoader()
	sl.Draft = gojsonschema.Draft4
	sl.AutoDetect = false
	sl.Validate = true

	schema, err := sl.Compile(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, werr.Wrap(werr.KindSchemaValidation, err, "invalid schema")
	}
	return schema, nil
}

// Validate checks body against schema. A missing body validates as null.
func Validate(schema *gojsonschema.Schema, body json.RawMessage) error {
	if len(body) == 0 {
		body = json.RawMessage("null")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return werr.Wrap(werr.KindSchemaValidation, err, "invalid body")
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return werr.SchemaValidation("%s", strings.Join(msgs, "; "))
}
