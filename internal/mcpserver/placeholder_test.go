package mcpserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpbroker/internal/domain"
)

func TestResolveParamsOverlaysEnvOnDefaults(t *testing.T) {
	params := []domain.InputParam{
		{Name: "REGION", Default: "us-east-1"},
		{Name: "TOKEN", Default: ""},
	}
	env := map[string]string{"TOKEN": "secret", "EXTRA": "value"}

	resolved := resolveParams(params, env)

	assert.Equal(t, "us-east-1", resolved["REGION"])
	assert.Equal(t, "secret", resolved["TOKEN"])
	assert.Equal(t, "value", resolved["EXTRA"])
}

func TestSubstitutePlaceholdersAllForms(t *testing.T) {
	values := map[string]string{"REGION": "eu-west-1"}

	assert.Equal(t, "--region=eu-west-1", substitutePlaceholders("--region=${REGION}", values))
	assert.Equal(t, "--region=eu-west-1", substitutePlaceholders("--region={REGION}", values))
	assert.Equal(t, "--region=eu-west-1", substitutePlaceholders("--region=${user_config.REGION}", values))
	assert.Equal(t, "--region=eu-west-1", substitutePlaceholders("--region={user_config.REGION}", values))
}

func TestSubstitutePlaceholdersLeavesUnknownUntouched(t *testing.T) {
	got := substitutePlaceholders("--name=${UNKNOWN}", map[string]string{})
	assert.Equal(t, "--name=${UNKNOWN}", got)
}

func TestSubstituteArgsAppliesToEveryElement(t *testing.T) {
	values := map[string]string{"PORT": "8443"}
	got := substituteArgs([]string{"serve", "--port", "${PORT}"}, values)
	assert.Equal(t, []string{"serve", "--port", "8443"}, got)
}

func TestRequiredParamsPresentReportsFirstMissing(t *testing.T) {
	params := []domain.InputParam{
		{Name: "REQUIRED_A", Required: true},
		{Name: "OPTIONAL_B", Required: false},
	}

	err := requiredParamsPresent(params, map[string]string{"OPTIONAL_B": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REQUIRED_A")

	err = requiredParamsPresent(params, map[string]string{"REQUIRED_A": "present"})
	assert.NoError(t, err)
}
