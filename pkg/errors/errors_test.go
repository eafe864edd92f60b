package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodeAlreadyResolved, status: http.StatusConflict, publicMsg: "already resolved", detailsOK: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		assert.Equal(t, tt.status, meta.HTTPStatus, tt.code)
		assert.Equal(t, tt.publicMsg, meta.PublicMessage, tt.code)
		assert.Equal(t, tt.retryable, meta.Retryable, tt.code)
		assert.Equal(t, tt.detailsOK, meta.DetailsAllowed, tt.code)
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	require.Equal(t, http.StatusInternalServerError, meta.HTTPStatus)
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing agent_id")
	require.Equal(t, CodeValidation, base.Code())
	require.Equal(t, "missing agent_id", base.Message())
	require.Nil(t, base.Details())

	base.WithDetails(map[string]any{"field": "agent_id"})
	require.NotNil(t, base.Details())

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeDependency, cause, "load order")
	require.True(t, stdErrors.Is(wrapped, cause))
	require.Equal(t, CodeDependency, wrapped.Code())
	require.Contains(t, wrapped.Error(), "boom")

	formatted := Newf(CodeNotFound, "order %s not found", "o-1")
	require.Equal(t, "order o-1 not found", formatted.Message())
}

func TestIsCodeWalksChain(t *testing.T) {
	inner := New(CodeAlreadyResolved, "too late")
	outer := fmt.Errorf("respond: %w", Wrap(CodeDependency, inner, "commit"))

	assert.True(t, IsCode(outer, CodeAlreadyResolved))
	assert.True(t, IsCode(outer, CodeDependency))
	assert.False(t, IsCode(outer, CodeNotFound))
	assert.False(t, IsCode(stdErrors.New("plain"), CodeNotFound))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(CodeDependency, "db down")))
	assert.False(t, IsRetryable(New(CodeAlreadyResolved, "assigned")))
	assert.True(t, IsRetryable(stdErrors.New("untyped")))
	assert.False(t, IsRetryable(nil))
}

func TestDumpIncludesChain(t *testing.T) {
	err := fmt.Errorf("outer: %w", Wrap(CodeDependency, stdErrors.New("conn reset"), "update candidate"))
	d := Dump(err)
	assert.Equal(t, CodeDependency, d.Code)
	assert.GreaterOrEqual(t, len(d.Chain), 3)
	assert.Empty(t, d.PGCode)
}

func TestDumpWalksChainAndClassifies(t *testing.T) {
	err := Wrap(CodeNotFound, fmt.Errorf("load order: %w", gorm.ErrRecordNotFound), "order not found")

	d := Dump(err)
	assert.Equal(t, CodeNotFound, d.Code)
	assert.Equal(t, "record_not_found", d.Kind)
	require.Len(t, d.Chain, 3)
	assert.Empty(t, d.PGCode)

	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "agent_candidates_one_current_idx", TableName: "agent_candidates"}
	d = Dump(Wrap(CodeConflict, pgErr, "insert candidate"))
	assert.Equal(t, "23505", d.PGCode)
	assert.Equal(t, "agent_candidates_one_current_idx", d.PGConstraint)
	assert.Equal(t, "agent_candidates", d.PGTable)

	assert.Equal(t, "deadline_exceeded", Dump(fmt.Errorf("query: %w", context.DeadlineExceeded)).Kind)
	assert.Equal(t, ErrorDump{}, Dump(nil))
}
