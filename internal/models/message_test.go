package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestamp_MillisecondPrecision(t *testing.T) {
	ts := NewTimestamp(time.Date(2026, 10, 17, 9, 30, 0, 123456789, time.FixedZone("CEST", 2*3600)))

	b, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2026-10-17T07:30:00.123Z"`, string(b))

	var back Timestamp
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, ts.Equal(back.Time))
}

func TestTimestamp_AcceptsOffsetsAndNull(t *testing.T) {
	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`"2026-10-17T09:30:00.5+02:00"`), &ts))
	assert.True(t, time.Date(2026, 10, 17, 7, 30, 0, 500000000, time.UTC).Equal(ts.Time))

	require.NoError(t, json.Unmarshal([]byte(`null`), &ts))
	assert.True(t, ts.IsZero())

	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
}

func TestMessageList_SortIsAscendingAndStable(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := MessageList{Messages: []Message{
		{ID: "t3", Timestamp: NewTimestamp(base.Add(3 * time.Second))},
		{ID: "t1a", Timestamp: NewTimestamp(base.Add(time.Second))},
		{ID: "t2", Timestamp: NewTimestamp(base.Add(2 * time.Second))},
		{ID: "t1b", Timestamp: NewTimestamp(base.Add(time.Second))},
	}}

	l.Sort()

	var ids []string
	for _, m := range l.Messages {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"t1a", "t1b", "t2", "t3"}, ids)

	last, ok := l.Last()
	assert.True(t, ok)
	assert.Equal(t, "t3", last.ID)
	assert.True(t, l.Contains("t2"))
	assert.False(t, l.Contains("t9"))
}

func TestMessageList_EmptyDocumentShape(t *testing.T) {
	b, err := json.Marshal(MessageList{Messages: []Message{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"messages":[]}`, string(b))

	_, ok := MessageList{}.Last()
	assert.False(t, ok)
}

func TestUser_PublicDropsPasswordHash(t *testing.T) {
	credits := 4
	u := User{ID: "u1", Email: "a@example.com", PasswordHash: "$2a$10$hash", Credits: &credits, Interests: []string{"sailing"}}

	pub := u.Public()
	assert.Empty(t, pub.PasswordHash)
	assert.Equal(t, 4, pub.CreditBalance())
	assert.Equal(t, "$2a$10$hash", u.PasswordHash)
	assert.Equal(t, 0, User{}.CreditBalance())

	b, err := json.Marshal(pub)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "password_hash")
}
