package mcpserver

import (
	"fmt"
	"regexp"

	"mcpbroker/internal/domain"
)

// placeholderPattern matches ${PARAM}, {PARAM}, ${user_config.PARAM} and
// {user_config.PARAM} forms. The optional "user_config." prefix is
// accepted and stripped; it names the same inputParams value, not a
// distinct namespace.
var placeholderPattern = regexp.MustCompile(`\$?\{(?:user_config\.)?([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// resolveParams overlays a server's inputParams defaults with the
// caller-supplied env, so explicit env always wins over a declared
// default.
func resolveParams(inputParams []domain.InputParam, env map[string]string) map[string]string {
	resolved := make(map[string]string, len(inputParams)+len(env))
	for _, p := range inputParams {
		if p.Default != "" {
			resolved[p.Name] = p.Default
		}
	}
	for k, v := range env {
		resolved[k] = v
	}
	return resolved
}

// substitutePlaceholders rewrites every ${PARAM}/{PARAM}/user_config.PARAM
// occurrence in s using values. Missing parameters are left untouched; the
// Server Manager surfaces validation separately via requiredParamsPresent.
func substitutePlaceholders(s string, values map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if v, ok := values[name]; ok {
			return v
		}
		return match
	})
}

// substituteArgs applies substitutePlaceholders to every element of args.
func substituteArgs(args []string, values map[string]string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = substitutePlaceholders(a, values)
	}
	return out
}

// requiredParamsPresent reports the first required inputParam absent from
// values, so Start can fail fast instead of spawning a misconfigured
// process.
func requiredParamsPresent(inputParams []domain.InputParam, values map[string]string) error {
	for _, p := range inputParams {
		if !p.Required {
			continue
		}
		if _, ok := values[p.Name]; !ok {
			return fmt.Errorf("missing required parameter %q", p.Name)
		}
	}
	return nil
}
