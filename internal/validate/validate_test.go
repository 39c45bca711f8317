package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveUnderRejectsTraversal(t *testing.T) {
	_, err := ResolveUnder("/workspace/root", "../../etc/passwd")
	require.Error(t, err)
	var traversal *ErrTraversal
	assert.ErrorAs(t, err, &traversal)
}

func TestResolveUnderAllowsNestedPath(t *testing.T) {
	resolved, err := ResolveUnder("/workspace/root", "sub/dir/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "/workspace/root/sub/dir/file.txt", resolved)
}

func TestFilenameRejectsSeparators(t *testing.T) {
	assert.False(t, Filename("../escape.txt"))
	assert.False(t, Filename("a/b.txt"))
	assert.True(t, Filename("report.pdf"))
}

func TestSanitizeFilenameStripsUnsafeChars(t *testing.T) {
	assert.Equal(t, "etcpasswd", SanitizeFilename("../../etc/passwd"))
	assert.Equal(t, "upload", SanitizeFilename("***"))
}

func TestUserIDValidation(t *testing.T) {
	assert.True(t, UserID("user-123_ABC"))
	assert.False(t, UserID(""))
	assert.False(t, UserID("has a space"))
}

func TestStreamRequestSchemaRejectsEmptyMessages(t *testing.T) {
	errs := StreamRequestSchema(&StreamRequest{})
	require.NotEmpty(t, errs)
	assert.Equal(t, "messages", errs[0].Field)
}

func TestStreamRequestSchemaRejectsBadRole(t *testing.T) {
	errs := StreamRequestSchema(&StreamRequest{
		Messages: []Message{{Role: "admin", Content: "hi"}},
	})
	require.NotEmpty(t, errs)
}

func TestStreamRequestSchemaAcceptsValidRequest(t *testing.T) {
	errs := StreamRequestSchema(&StreamRequest{
		Messages: []Message{{Role: "user", Content: "hello"}},
		RAGNamespace: "edubba",
		RAGTopK:      5,
	})
	assert.Empty(t, errs)
}

func TestStreamRequestSchemaRejectsBadNamespace(t *testing.T) {
	errs := StreamRequestSchema(&StreamRequest{
		Messages:     []Message{{Role: "user", Content: "hi"}},
		RAGNamespace: "other",
	})
	require.NotEmpty(t, errs)
}
