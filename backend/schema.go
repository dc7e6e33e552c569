package backend

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// JSON schemas passed as the "format" of each generate call. Ollama
// constrains the model output to match them.
var (
	completeSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "language": {"type": "string"},
    "suggestions": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "code": {"type": "string"},
          "priority": {"type": "number"}
        },
        "required": ["code", "priority"]
      }
    }
  },
  "required": ["language", "suggestions"]
}`)

	mergeSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "language": {"type": "string"},
    "mergedCode": {"type": "string"}
  },
  "required": ["language", "mergedCode"]
}`)

	rerankSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "suggestions": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "code": {"type": "string"},
          "weight": {"type": "number"}
        },
        "required": ["code", "weight"]
      }
    }
  },
  "required": ["suggestions"]
}`)
)

// The wire shapes use pointers so a missing required field can be told
// apart from a zero value.

type completeResult struct {
	Language    *string `json:"language"`
	Suggestions *[]struct {
		Code     *string  `json:"code"`
		Priority *float64 `json:"priority"`
	} `json:"suggestions"`
}

type mergeResult struct {
	Language   *string `json:"language"`
	MergedCode *string `json:"mergedCode"`
}

type rerankResult struct {
	Suggestions *[]struct {
		Code   *string  `json:"code"`
		Weight *float64 `json:"weight"`
	} `json:"suggestions"`
}

func malformed(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrMalformed)
}

func parseComplete(raw string) ([]Candidate, error) {
	var r completeResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "decode completion %q", raw), ErrMalformed)
	}
	if r.Language == nil || r.Suggestions == nil {
		return nil, malformed("completion missing language or suggestions: %q", raw)
	}
	out := make([]Candidate, 0, len(*r.Suggestions))
	for i, s := range *r.Suggestions {
		if s.Code == nil || s.Priority == nil {
			return nil, malformed("completion suggestion %d missing code or priority", i)
		}
		out = append(out, Candidate{Code: *s.Code, Priority: *s.Priority})
	}
	return out, nil
}

func parseMerge(raw string) (string, error) {
	var r mergeResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return "", errors.Mark(errors.Wrapf(err, "decode merge %q", raw), ErrMalformed)
	}
	if r.Language == nil || r.MergedCode == nil {
		return "", malformed("merge missing language or mergedCode: %q", raw)
	}
	return *r.MergedCode, nil
}

func parseRerank(raw string) ([]Ranked, error) {
	var r rerankResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "decode rerank %q", raw), ErrMalformed)
	}
	if r.Suggestions == nil {
		return nil, malformed("rerank missing suggestions: %q", raw)
	}
	out := make([]Ranked, 0, len(*r.Suggestions))
	for i, s := range *r.Suggestions {
		if s.Code == nil || s.Weight == nil {
			return nil, malformed("rerank suggestion %d missing code or weight", i)
		}
		out = append(out, Ranked{Code: *s.Code, Weight: *s.Weight})
	}
	return out, nil
}
