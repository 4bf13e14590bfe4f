// Package response validates the structured reply produced by the backend.
// The top-level payload is strict; individual command entries that fail
// their checks are dropped so the rest of the reply stays usable.
package response

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
)

// CommandKind is the category of a suggested button.
type CommandKind string

const (
	KindCommand    CommandKind = "command"
	KindSearch     CommandKind = "search"
	KindNavigation CommandKind = "navigation"
)

// Command is one suggested button addressed to the target bot.
type Command struct {
	DisplayText string      `json:"display_text" validate:"required"`
	Command     string      `json:"command"      validate:"required,tgaddr"`
	Kind        CommandKind `json:"kind"         validate:"oneof=command search navigation"`
	Priority    int         `json:"priority"     validate:"min=1,max=10"`
}

// AIResponse is a validated backend reply.
type AIResponse struct {
	Text        string    `json:"text"`
	Suggestions []string  `json:"suggestions"`
	Commands    []Command `json:"commands"`
	Confidence  float64   `json:"confidence"`
	ModelUsed   string    `json:"model_used"`

	// Dropped counts command entries removed during validation.
	Dropped int `json:"-"`
}

// Degraded reports whether every command the backend proposed was dropped.
func (r *AIResponse) Degraded() bool {
	return r.Dropped > 0 && len(r.Commands) == 0
}

const (
	fieldText        = "text"
	fieldSuggestions = "suggestions"
	fieldCommands    = "commands"
	fieldConfidence  = "confidence"
	fieldModelUsed   = "model_used"
)

var knownFields = map[string]bool{
	fieldText:        true,
	fieldSuggestions: true,
	fieldCommands:    true,
	fieldConfidence:  true,
	fieldModelUsed:   true,
}

// Validator checks raw backend output for one target bot.
type Validator struct {
	target   string
	validate *validator.Validate
	log      *slog.Logger
}

// NewValidator creates a Validator accepting commands addressed to target
// (username without the leading @).
func NewValidator(target string, logger *slog.Logger) (*Validator, error) {
	target = strings.TrimPrefix(target, "@")
	if target == "" {
		return nil, fmt.Errorf("target bot username is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	q := regexp.QuoteMeta(target)
	addr := regexp.MustCompile(`^(?:/[A-Za-z0-9_]+@` + q + `|@` + q + ` .*\S.*)$`)

	v := validator.New(validator.WithRequiredStructEnabled())
	// One leading and one trailing space are tolerated; the button mapper
	// strips them when addressing.
	if err := v.RegisterValidation("tgaddr", func(fl validator.FieldLevel) bool {
		s := strings.TrimSuffix(strings.TrimPrefix(fl.Field().String(), " "), " ")
		return addr.MatchString(s)
	}); err != nil {
		return nil, fmt.Errorf("failed to register address validation: %w", err)
	}

	return &Validator{
		target:   target,
		validate: v,
		log:      logger.With("component", "response_validator"),
	}, nil
}

// Target returns the target bot username the validator accepts.
func (v *Validator) Target() string { return v.target }

// Validate parses raw and returns the validated response or a *ValidationError.
func (v *Validator) Validate(raw string) (*AIResponse, error) {
	payload := Repair(raw)

	// Malformed: not JSON, or JSON that is not an object.
	if !gjson.Valid(payload) {
		return nil, &ValidationError{Kind: KindMalformed, Detail: "payload is not valid JSON"}
	}
	root := gjson.Parse(payload)
	if !root.IsObject() {
		return nil, &ValidationError{Kind: KindMalformed, Detail: "payload is not a JSON object"}
	}

	// SchemaMismatch: unique keys, required fields with the right primitive types.
	fields, dup := objectFields(root)
	if dup != "" {
		return nil, &ValidationError{Kind: KindSchemaMismatch, Field: dup, Detail: "duplicate key"}
	}
	if err := checkSchema(fields); err != nil {
		return nil, err
	}

	// UnknownField: strict top-level key set.
	for key := range fields {
		if !knownFields[key] {
			return nil, &ValidationError{Kind: KindUnknownField, Field: key}
		}
	}

	// OutOfRange: confidence bounds are inclusive.
	confidence := fields[fieldConfidence].Num
	if confidence < 0 || confidence > 1 || math.IsNaN(confidence) {
		return nil, &ValidationError{
			Kind:   KindOutOfRange,
			Field:  fieldConfidence,
			Detail: fmt.Sprintf("%v not in [0, 1]", confidence),
		}
	}

	resp := &AIResponse{
		Text:        fields[fieldText].Str,
		Suggestions: []string{},
		Commands:    []Command{},
		Confidence:  confidence,
		ModelUsed:   fields[fieldModelUsed].Str,
	}
	for _, s := range fields[fieldSuggestions].Array() {
		resp.Suggestions = append(resp.Suggestions, s.Str)
	}

	entries := fields[fieldCommands].Array()
	for i, entry := range entries {
		cmd, err := v.command(entry)
		if err != nil {
			resp.Dropped++
			v.log.Debug("Dropping invalid command entry", "index", i, "error", err)
			continue
		}
		resp.Commands = append(resp.Commands, cmd)
	}

	if resp.Degraded() {
		v.log.Warn("Degraded response: every command entry was dropped",
			"dropped", resp.Dropped, "model", resp.ModelUsed)
	} else if resp.Dropped > 0 {
		v.log.Info("Dropped invalid command entries", "dropped", resp.Dropped, "kept", len(resp.Commands))
	}
	return resp, nil
}

// objectFields returns the members of obj keyed by name, or the first key
// that appears more than once.
func objectFields(obj gjson.Result) (map[string]gjson.Result, string) {
	fields := make(map[string]gjson.Result)
	var dup string
	obj.ForEach(func(key, value gjson.Result) bool {
		if _, seen := fields[key.Str]; seen {
			dup = key.Str
			return false
		}
		fields[key.Str] = value
		return true
	})
	return fields, dup
}

func checkSchema(fields map[string]gjson.Result) error {
	mismatch := func(field, detail string) error {
		return &ValidationError{Kind: KindSchemaMismatch, Field: field, Detail: detail}
	}

	text, ok := fields[fieldText]
	if !ok {
		return mismatch(fieldText, "missing")
	}
	if text.Type != gjson.String || strings.TrimSpace(text.Str) == "" {
		return mismatch(fieldText, "must be a non-empty string")
	}

	suggestions, ok := fields[fieldSuggestions]
	if !ok {
		return mismatch(fieldSuggestions, "missing")
	}
	if !suggestions.IsArray() {
		return mismatch(fieldSuggestions, "must be an array")
	}
	for _, s := range suggestions.Array() {
		if s.Type != gjson.String {
			return mismatch(fieldSuggestions, "must contain only strings")
		}
	}

	commands, ok := fields[fieldCommands]
	if !ok {
		return mismatch(fieldCommands, "missing")
	}
	if !commands.IsArray() {
		return mismatch(fieldCommands, "must be an array")
	}

	confidence, ok := fields[fieldConfidence]
	if !ok {
		return mismatch(fieldConfidence, "missing")
	}
	if confidence.Type != gjson.Number {
		return mismatch(fieldConfidence, "must be a number")
	}

	model, ok := fields[fieldModelUsed]
	if !ok {
		return mismatch(fieldModelUsed, "missing")
	}
	if model.Type != gjson.String {
		return mismatch(fieldModelUsed, "must be a string")
	}
	return nil
}

func (v *Validator) command(entry gjson.Result) (Command, error) {
	if !entry.IsObject() {
		return Command{}, fmt.Errorf("entry is not an object")
	}

	fields, dup := objectFields(entry)
	if dup != "" {
		return Command{}, fmt.Errorf("duplicate command field %q", dup)
	}

	var cmd Command
	for key, val := range fields {
		switch key {
		case "display_text":
			if val.Type != gjson.String {
				return Command{}, fmt.Errorf("display_text must be a string")
			}
			cmd.DisplayText = val.Str
		case "command":
			if val.Type != gjson.String {
				return Command{}, fmt.Errorf("command must be a string")
			}
			cmd.Command = val.Str
		case "kind":
			if val.Type != gjson.String {
				return Command{}, fmt.Errorf("kind must be a string")
			}
			cmd.Kind = CommandKind(val.Str)
		case "priority":
			if val.Type != gjson.Number || val.Num != math.Trunc(val.Num) {
				return Command{}, fmt.Errorf("priority must be an integer")
			}
			cmd.Priority = int(val.Num)
		default:
			return Command{}, fmt.Errorf("unknown command field %q", key)
		}
	}

	if err := v.validate.Struct(cmd); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// Repair extracts the JSON object from output wrapped in Markdown code
// fences or surrounded by prose. Valid JSON and text without braces are
// returned trimmed but otherwise unchanged.
func Repair(raw string) string {
	s := strings.TrimSpace(raw)
	if gjson.Valid(s) {
		return s
	}

	if start := strings.Index(s, "```"); start >= 0 {
		body := s[start+3:]
		// Skip the info string (e.g. "json") up to the end of the fence line.
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		}
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		s = strings.TrimSpace(body)
	}

	open := strings.IndexByte(s, '{')
	closing := strings.LastIndexByte(s, '}')
	if open >= 0 && closing > open {
		return s[open : closing+1]
	}
	return s
}
