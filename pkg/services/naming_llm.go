package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-enricher/pkg/jsonutil"
	"github.com/ekaya-inc/catalog-enricher/pkg/llm"
	"github.com/ekaya-inc/catalog-enricher/pkg/prompts"
)

// NamingMode selects how an LLMNamer talks to its model.
type NamingMode string

const (
	// NamingModeCombined asks for aliases and description in one JSON reply.
	NamingModeCombined NamingMode = "combined"
	// NamingModeSeparate makes one call for aliases and one for the description.
	NamingModeSeparate NamingMode = "separate"
	// NamingModeLocal is NamingModeSeparate against a small local model whose
	// replies are free text, one alias per line.
	NamingModeLocal NamingMode = "local"
)

// localNamingTemperature matches the sampling the local seq2seq models are tuned for.
const localNamingTemperature = 0.7

const maxAliasWords = 6

var (
	descriptionBoilerplate = []string{
		"the description is:",
		"description:",
		"this column",
		"this is",
	}
	aliasBoilerplate = []string{"for ", "column ", "examples", "now ", "aliases"}

	listMarker = regexp.MustCompile(`^(\d+[.)]|[-*•])\s*`)
)

type combinedNaming struct {
	Aliases     jsonutil.FlexibleStrings `json:"aliases"`
	Description string                   `json:"description"`
}

// LLMNamer names columns with a language model.
type LLMNamer struct {
	caller      *llmCaller
	mode        NamingMode
	temperature float64
	logger      *zap.Logger
}

var _ Namer = (*LLMNamer)(nil)

// NewLLMNamer creates a namer over client. breaker may be shared between
// namers that use the same provider; nil creates a private one.
func NewLLMNamer(client llm.LLMClient, mode NamingMode, temperature float64, breaker *llm.CircuitBreaker, logger *zap.Logger) *LLMNamer {
	if mode == NamingModeLocal {
		temperature = localNamingTemperature
	}
	logger = logger.Named("llm-namer").With(zap.String("mode", string(mode)))
	return &LLMNamer{
		caller:      newLLMCaller(client, breaker, logger),
		mode:        mode,
		temperature: temperature,
		logger:      logger,
	}
}

func (n *LLMNamer) Stage() string {
	return "llm-" + string(n.mode)
}

func (n *LLMNamer) Name(ctx context.Context, in NamingInput) (*NamingResult, error) {
	if in.Column == nil {
		return nil, fmt.Errorf("naming input has no column")
	}
	pc := namingContext(in)

	if n.mode == NamingModeCombined {
		reply, err := generateJSON[combinedNaming](ctx, n.caller, prompts.BuildCombinedNamingPrompt(pc), prompts.NamingSystemMessage(), n.temperature)
		if err != nil {
			return nil, err
		}
		return &NamingResult{
			Aliases:     normalizeAliases(reply.Aliases),
			Description: cleanDescription(reply.Description),
		}, nil
	}

	aliasText, err := n.caller.generate(ctx, prompts.BuildAliasPrompt(pc), prompts.NamingSystemMessage(), n.temperature)
	if err != nil {
		return nil, fmt.Errorf("failed to generate aliases: %w", err)
	}
	descText, err := n.caller.generate(ctx, prompts.BuildDescriptionPrompt(pc), prompts.NamingSystemMessage(), n.temperature)
	if err != nil {
		return nil, fmt.Errorf("failed to generate description: %w", err)
	}

	return &NamingResult{
		Aliases:     parseAliases(aliasText),
		Description: cleanDescription(llm.ExtractText(descText)),
	}, nil
}

// parseAliases reads aliases from a JSON array, a comma separated list or one
// alias per line.
func parseAliases(text string) []string {
	text = llm.ExtractText(text)
	if strings.HasPrefix(text, "[") {
		if raw, err := llm.ExtractJSON(text); err == nil {
			var list []string
			if json.Unmarshal([]byte(raw), &list) == nil {
				return normalizeAliases(list)
			}
		}
	}

	var candidates []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if _, after, ok := strings.Cut(line, ":"); ok && !strings.Contains(after, ":") && strings.Contains(after, ",") {
			line = strings.TrimSpace(after)
		}
		if line == "" || isAliasBoilerplate(line) {
			continue
		}
		candidates = append(candidates, strings.Split(line, ",")...)
	}
	return normalizeAliases(candidates)
}

func isAliasBoilerplate(line string) bool {
	for _, p := range aliasBoilerplate {
		if hasWordPrefix(line, p) {
			return true
		}
	}
	return false
}

// normalizeAliases trims list markers and quotes, drops aliases of two
// characters or less and of more than six words, dedups case-insensitively
// and keeps at most five.
func normalizeAliases(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, maxAliases)
	for _, a := range raw {
		a = strings.TrimSpace(a)
		a = listMarker.ReplaceAllString(a, "")
		a = strings.Trim(a, " \t\"'`.")
		if utf8.RuneCountInString(a) <= 2 || len(strings.Fields(a)) > maxAliasWords {
			continue
		}
		key := strings.ToLower(a)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
		if len(out) == maxAliases {
			break
		}
	}
	return out
}

// cleanDescription strips boilerplate openings, capitalizes the first letter
// and ends the text with a period.
func cleanDescription(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range descriptionBoilerplate {
		if hasWordPrefix(s, prefix) {
			s = strings.TrimSpace(s[len(prefix):])
		}
	}
	s = strings.Trim(s, "\"'")
	if s == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(s)
	s = string(unicode.ToUpper(r)) + s[size:]
	if !strings.HasSuffix(s, ".") {
		s += "."
	}
	return s
}

// hasWordPrefix reports whether s starts with prefix, ignoring case, and the
// prefix ends on a word boundary: "this is" matches "This is a code" but not
// "This island code".
func hasWordPrefix(s, prefix string) bool {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return false
	}
	if len(s) == len(prefix) {
		return true
	}
	last, _ := utf8.DecodeLastRuneInString(prefix)
	if !unicode.IsLetter(last) && !unicode.IsDigit(last) {
		return true
	}
	next, _ := utf8.DecodeRuneInString(s[len(prefix):])
	return !unicode.IsLetter(next) && !unicode.IsDigit(next)
}
