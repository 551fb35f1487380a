package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"taskboard/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskPatch_DistinguishesAbsentFromNull(t *testing.T) {
	var patches []models.TaskPatch
	body := `[{"id":1,"title":"Renamed"},{"id":2,"list_id":null},{"id":3,"position":0}]`
	require.NoError(t, json.Unmarshal([]byte(body), &patches))
	require.Len(t, patches, 3)

	assert.True(t, patches[0].Title.Present())
	assert.Equal(t, "Renamed", patches[0].Title.Value)
	assert.False(t, patches[0].ListID.Set)
	assert.False(t, patches[0].Position.Set)

	assert.True(t, patches[1].ListID.Set)
	assert.True(t, patches[1].ListID.Null)
	assert.False(t, patches[1].ListID.Present())

	assert.True(t, patches[2].Position.Present())
	assert.Equal(t, 0, patches[2].Position.Value)
}

func TestTaskPatch_Empty(t *testing.T) {
	assert.True(t, models.TaskPatch{ID: 9}.Empty())
	assert.False(t, models.TaskPatch{ID: 9, Position: models.Some(2)}.Empty())
}

func TestOptional_Or(t *testing.T) {
	assert.Equal(t, 5, models.Optional[int]{}.Or(5))
	assert.Equal(t, 5, models.Null[int]().Or(5))
	assert.Equal(t, 3, models.Some(3).Or(5))
}

func TestOptional_Marshal(t *testing.T) {
	out, err := json.Marshal(models.TaskPatch{ID: 4, Position: models.Some(2)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":4,"position":2}`, string(out))

	out, err = json.Marshal(models.TaskPatch{ID: 4, Title: models.Null[string]()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":4,"title":null}`, string(out))
}

func TestInvitation_IsExpired(t *testing.T) {
	now := time.Now()
	inv := models.Invitation{ExpiresAt: now.Add(time.Hour)}
	assert.False(t, inv.IsExpired(now))
	assert.True(t, inv.IsExpired(now.Add(2*time.Hour)))
	assert.True(t, inv.IsExpired(inv.ExpiresAt))
}

func TestBoardRole_Valid(t *testing.T) {
	assert.True(t, models.RoleOwner.Valid())
	assert.True(t, models.RoleMember.Valid())
	assert.False(t, models.BoardRole("guest").Valid())
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "ada@example.com", models.NormalizeEmail("  Ada@Example.COM "))
}
