package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeConfigInvalid, CategoryConfig, SeverityError, false},
		{ErrCodeWorkDir, CategoryIO, SeverityFatal, false},
		{ErrCodeCopierLocked, CategoryIO, SeverityWarning, true},
		{ErrCodeBlobStore, CategoryIO, SeverityError, true},
		{ErrCodeInvalidMount, CategoryValidation, SeverityError, false},
		{ErrCodeClosed, CategoryInternal, SeverityError, false},
		{"BAD", CategoryInternal, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestIndexError_ErrorIncludesCause(t *testing.T) {
	cause := fmt.Errorf("permission denied")
	err := New(ErrCodeWorkDir, "cannot create work dir", cause)

	assert.Equal(t, "[ERR_201_WORK_DIR] cannot create work dir: permission denied", err.Error())
	assert.Equal(t, "[ERR_201_WORK_DIR] permission denied", Wrap(ErrCodeWorkDir, cause).Error())
}

func TestIndexError_IsAndUnwrap(t *testing.T) {
	cause := fmt.Errorf("disk gone")
	err := fmt.Errorf("outer: %w", New(ErrCodeCopierRelease, "release failed", cause))

	assert.True(t, stderrors.Is(err, Sentinel(ErrCodeCopierRelease)))
	assert.False(t, stderrors.Is(err, Sentinel(ErrCodeWorkDir)))
	assert.True(t, stderrors.Is(err, cause))
	assert.True(t, HasCode(err, ErrCodeCopierRelease))
	assert.Equal(t, ErrCodeCopierRelease, GetCode(err))
	assert.Equal(t, CategoryIO, GetCategory(err))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestHelpers_OnPlainErrors(t *testing.T) {
	plain := fmt.Errorf("plain")
	assert.False(t, IsRetryable(plain))
	assert.False(t, IsFatal(plain))
	assert.Empty(t, GetCode(plain))
	assert.False(t, IsRetryable(nil))
}

func TestFormatForCLI(t *testing.T) {
	err := New(ErrCodeWorkDir, "cannot create work dir", fmt.Errorf("read-only file system")).
		WithSuggestion("set work_dir to a writable location")

	out := FormatForCLI(err)
	assert.Contains(t, out, "Error: cannot create work dir")
	assert.Contains(t, out, "Cause: read-only file system")
	assert.Contains(t, out, "Hint: set work_dir to a writable location")
	assert.Contains(t, out, "Code: ERR_201_WORK_DIR")

	assert.Empty(t, FormatForCLI(nil))
	assert.Contains(t, FormatForCLI(fmt.Errorf("boom")), "Code: ERR_501_INTERNAL")
}

func TestLogAttrs(t *testing.T) {
	err := New(ErrCodeBlobNotFound, "blob missing", nil).
		WithDetail("id", "abc").
		WithDetail("backend", "sqlite")

	attrs := LogAttrs(err)
	require.NotEmpty(t, attrs)

	keys := make([]string, 0, len(attrs))
	for _, a := range attrs {
		keys = append(keys, a.Key)
	}
	assert.Equal(t, []string{"error_code", "error", "category", "severity", "retryable", "detail_backend", "detail_id"}, keys)

	plain := LogAttrs(fmt.Errorf("x"))
	require.Len(t, plain, 1)
	assert.Equal(t, "error", plain[0].Key)
}
