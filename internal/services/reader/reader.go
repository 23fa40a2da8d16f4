package reader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// maxLLMFragment bounds the slice handed to LLM-assisted repair.
// The model never sees more than this in one request, and never the whole file.
const maxLLMFragment = 64 * 1024

// Item is one decoded top-level value. When the root is an array the
// reader yields one Item per element; otherwise a single Item carries the
// whole root value.
type Item struct {
	Index int
	Value json.RawMessage
}

// Result reports what a read produced beyond the items themselves
type Result struct {
	Repairs    []string // Human-readable description of each repair applied
	LLMRepairs int      // Fragments fixed through the gateway
	HaltOffset int64    // Byte offset where parsing stopped (best-effort mode)
	Partial    bool     // True when best-effort mode returned a truncated item set
}

// Service reads arbitrary JSON with three escalating strategies: strict
// streaming decode, mechanical repair, and bounded LLM-assisted repair.
type Service struct {
	gateway   interfaces.LLMGateway // nil disables strategy three
	llmRepair bool
	logger    arbor.ILogger
}

// NewService creates a reader. gateway may be nil when LLM repair is disabled.
func NewService(gateway interfaces.LLMGateway, llmRepair bool, logger arbor.ILogger) *Service {
	return &Service{gateway: gateway, llmRepair: llmRepair, logger: logger}
}

// ReadAll decodes every top-level item from r. The strict pass runs through
// Stream, element by element; the consumed bytes are retained on the side so
// the repair ladder can work on the full input when strict parsing fails.
// bestEffort controls whether an unrecoverable failure mid-stream returns
// the items decoded so far (with Result.Partial set) or an error.
func (s *Service) ReadAll(ctx context.Context, r io.Reader, bestEffort bool) ([]Item, *Result, error) {
	var buf bytes.Buffer
	var items []Item
	err := s.Stream(ctx, io.TeeReader(r, &buf), func(it Item) error {
		items = append(items, it)
		return nil
	})
	if err == nil {
		return items, &Result{}, nil
	}
	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}

	// Stream stops at the first syntax error; the repair strategies need
	// whatever input it never consumed
	if _, rerr := io.Copy(&buf, r); rerr != nil {
		return nil, nil, fmt.Errorf("failed to read input: %w", rerr)
	}
	s.logger.Debug().Err(err).Msg("Strict JSON parse failed, attempting repair")
	return s.repairBytes(ctx, buf.Bytes(), err, bestEffort)
}

// Stream decodes top-level array items one at a time, calling fn for each.
// It operates in bounded memory: only the current element is materialised.
// Non-array roots are delivered as a single item. Strict parsing only;
// ReadAll layers the repair strategies on top of it.
func (s *Service) Stream(ctx context.Context, r io.Reader, fn func(Item) error) error {
	br := bufio.NewReaderSize(r, 64*1024)

	first, err := peekNonSpace(br)
	if err != nil {
		return s.strictErr(err)
	}

	dec := json.NewDecoder(br)
	dec.UseNumber()

	if first != '[' {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return s.strictErr(err)
		}
		if err := ensureStreamEOF(dec); err != nil {
			return err
		}
		return fn(Item{Index: 0, Value: raw})
	}

	if _, err := dec.Token(); err != nil {
		return s.strictErr(err)
	}
	index := 0
	for dec.More() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return s.strictErr(err)
		}
		if err := fn(Item{Index: index, Value: raw}); err != nil {
			return err
		}
		index++
	}
	if _, err := dec.Token(); err != nil {
		return s.strictErr(err)
	}
	return ensureStreamEOF(dec)
}

// ensureStreamEOF rejects trailing data after the root JSON value
func ensureStreamEOF(dec *json.Decoder) error {
	if _, err := dec.Token(); err != io.EOF {
		return models.NewPipelineError(models.ErrKindMalformedJSON, "parse",
			"trailing data after JSON value", nil)
	}
	return nil
}

// peekNonSpace returns the first non-whitespace byte without consuming it
func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			if err := br.UnreadByte(); err != nil {
				return 0, err
			}
			return b, nil
		}
	}
}

// repairBytes runs strategies two and three over the full input after the
// strict streaming pass failed with strictErr.
func (s *Service) repairBytes(ctx context.Context, data []byte, strictErr error, bestEffort bool) ([]Item, *Result, error) {
	result := &Result{}

	// Strategy two: mechanical repair
	repaired, repairs := Repair(data)
	if len(repairs) > 0 {
		result.Repairs = repairs
		for _, r := range repairs {
			s.logger.Info().Str("repair", r).Msg("JSON repair applied")
		}
		if items, err2 := decodeStrict(repaired); err2 == nil {
			return items, result, nil
		}
	}

	// Strategy three: LLM-assisted repair on a bounded fragment
	if s.llmRepair && s.gateway != nil {
		fragment := repaired
		if len(fragment) > maxLLMFragment {
			fragment = fragment[:maxLLMFragment]
		}
		fixed, llmErr := s.repairWithLLM(ctx, fragment)
		if llmErr == nil {
			if items, err3 := decodeStrict(fixed); err3 == nil {
				result.LLMRepairs++
				result.Repairs = append(result.Repairs, "llm-assisted repair of leading fragment")
				return items, result, nil
			}
		} else {
			s.logger.Warn().Err(llmErr).Msg("LLM-assisted JSON repair failed")
		}
	}

	if bestEffort {
		items, offset := decodePrefix(repaired)
		if len(items) > 0 {
			result.Partial = true
			result.HaltOffset = offset
			s.logger.Warn().
				Int("items", len(items)).
				Int64("halt_offset", offset).
				Msg("Returning partial JSON parse")
			return items, result, nil
		}
	}

	return nil, result, models.NewPipelineError(models.ErrKindMalformedJSON, "parse",
		"input is malformed beyond repair", strictErr)
}

// repairWithLLM asks the gateway for a minimal syntactic fix of fragment,
// constrained to produce a bare JSON value.
func (s *Service) repairWithLLM(ctx context.Context, fragment []byte) ([]byte, error) {
	prompt := fmt.Sprintf(
		"The following is malformed JSON. Return the minimally corrected JSON value and nothing else. Do not add, remove or rename fields.\n\n%s",
		string(fragment))

	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"corrected": map[string]interface{}{"type": "string"},
		},
		"required": []string{"corrected"},
	}

	out, err := s.gateway.GenerateStructured(ctx, prompt, schema, interfaces.GenerateOptions{})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Corrected string `json:"corrected"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("unexpected repair response: %w", err)
	}
	if resp.Corrected == "" {
		return nil, fmt.Errorf("empty repair response")
	}
	return []byte(resp.Corrected), nil
}

func (s *Service) strictErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return models.NewPipelineError(models.ErrKindMalformedJSON, "parse", "truncated JSON input", err)
	}
	return err
}

// decodeStrict parses data fully, yielding one item per array element or a
// single item for other roots.
func decodeStrict(data []byte) ([]Item, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	if delim, ok := tok.(json.Delim); ok && delim == '[' {
		var items []Item
		index := 0
		for dec.More() {
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return nil, err
			}
			items = append(items, Item{Index: index, Value: raw})
			index++
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		if err := ensureEOF(dec); err != nil {
			return nil, err
		}
		return items, nil
	}

	dec2 := json.NewDecoder(bytes.NewReader(data))
	dec2.UseNumber()
	var raw json.RawMessage
	if err := dec2.Decode(&raw); err != nil {
		return nil, err
	}
	if err := ensureEOF(dec2); err != nil {
		return nil, err
	}
	return []Item{{Index: 0, Value: raw}}, nil
}

// decodePrefix decodes as many leading array elements as parse cleanly,
// returning the byte offset where decoding halted.
func decodePrefix(data []byte) ([]Item, int64) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, 0
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '[' {
		return nil, 0
	}

	var items []Item
	index := 0
	for dec.More() {
		var raw json.RawMessage
		offset := dec.InputOffset()
		if err := dec.Decode(&raw); err != nil {
			return items, offset
		}
		items = append(items, Item{Index: index, Value: raw})
		index++
	}
	return items, dec.InputOffset()
}

func ensureEOF(dec *json.Decoder) error {
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("trailing data after JSON value")
	}
	return nil
}
