package mineru

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/spherical/pdf-converter/internal/domain"
)

// envelopeSchema is the outer shape of every API response.
const envelopeSchema = `{
  "type": "object",
  "required": ["code"],
  "properties": {
    "code": {"type": "integer"},
    "msg": {"type": "string"},
    "trace_id": {"type": "string"},
    "data": {"type": ["object", "null"]}
  }
}`

const submitDataSchema = `{
  "type": "object",
  "required": ["batch_id"],
  "properties": {
    "batch_id": {"type": "string", "minLength": 1},
    "file_urls": {
      "type": ["array", "null"],
      "items": {"type": "string"}
    }
  }
}`

const statusDataSchema = `{
  "type": "object",
  "properties": {
    "batch_id": {"type": "string"},
    "extract_result": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["state"],
        "properties": {
          "file_name": {"type": ["string", "null"]},
          "data_id": {"type": ["string", "null"]},
          "state": {"type": "string"},
          "err_msg": {"type": ["string", "null"]},
          "full_zip_url": {"type": ["string", "null"]},
          "extract_progress": {
            "type": ["object", "null"],
            "properties": {
              "extracted_pages": {"type": "integer"},
              "total_pages": {"type": "integer"},
              "start_time": {"type": "string"}
            }
          }
        }
      }
    }
  }
}`

var (
	envelopeValidator   = mustCompile("envelope.json", envelopeSchema)
	submitDataValidator = mustCompile("submit-data.json", submitDataSchema)
	statusDataValidator = mustCompile("status-data.json", statusDataSchema)
)

func mustCompile(name, schema string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader([]byte(schema))); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return compiled
}

// envelope is the common response wrapper. Code 0 means success.
type envelope struct {
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	TraceID string          `json:"trace_id"`
	Data    json.RawMessage `json:"data"`
}

// decodeEnvelope validates resp against the envelope schema and, when code
// is 0, validates and decodes data into out. Code 0 is success whatever the
// HTTP status. A non-zero code is returned without error for the caller to map.
func decodeEnvelope(resp *Response, dataSchema *jsonschema.Schema, out interface{}) (*envelope, error) {
	raw, err := decodeLoose(resp.Body)
	if err == nil {
		err = envelopeValidator.Validate(raw)
	}
	if err != nil {
		if resp.StatusCode != http.StatusOK {
			e := domain.TransportError(fmt.Sprintf("unexpected HTTP status %s: %s", statusText(resp.StatusCode), excerpt(resp.Body)), nil)
			e.StatusCode = resp.StatusCode
			return nil, e
		}
		return nil, domain.MalformedResponse("response is not a valid envelope", err)
	}

	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, domain.MalformedResponse("decode envelope", err)
	}

	if env.Code != 0 {
		return &env, nil
	}

	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return nil, domain.MalformedResponse("success response without data", nil)
	}

	data, err := decodeLoose(env.Data)
	if err != nil {
		return nil, domain.MalformedResponse("decode data", err)
	}
	if err := dataSchema.Validate(data); err != nil {
		return nil, domain.MalformedResponse("data does not match schema", err)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return nil, domain.MalformedResponse("decode data", err)
	}

	return &env, nil
}

// decodeLoose parses JSON into generic values with exact numbers.
func decodeLoose(body []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
