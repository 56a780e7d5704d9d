package gitutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateBranchName(t *testing.T) {
	accepted := []string{"main", "feature/x", "claude/user/main"}
	for _, name := range accepted {
		assert.NoErrorf(t, ValidateBranchName(name), "expected %q to be accepted", name)
	}

	rejected := []string{"", "-x", "a..b", "@", "a@{1}", "a/./b", "a//b", ".hidden", "x ", "x*"}
	for _, name := range rejected {
		assert.Errorf(t, ValidateBranchName(name), "expected %q to be rejected", name)
	}
}

func TestValidateCommitHash(t *testing.T) {
	assert.NoError(t, ValidateCommitHash("abc1234"))
	assert.NoError(t, ValidateCommitHash("0123456789abcdef0123456789abcdef01234567"))
	assert.Error(t, ValidateCommitHash("not-a-hash"))
	assert.Error(t, ValidateCommitHash("abc12")) // too short
}

func TestUserNamespacedBranch(t *testing.T) {
	assert.Equal(t, "logpose/j-doe/main", UserNamespacedBranch("j-doe", "main"))
}
