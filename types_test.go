package frontchat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// ID
// ============================================================================

func TestIDUnmarshal(t *testing.T) {
	cases := []struct {
		in   string
		want ID
	}{
		{`42`, 42},
		{`"42"`, 42},
		{`" 7 "`, 7},
		{`null`, 0},
		{`""`, 0},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			var id ID
			require.NoError(t, json.Unmarshal([]byte(tc.in), &id))
			assert.Equal(t, tc.want, id)
		})
	}

	t.Run("rejects garbage", func(t *testing.T) {
		var id ID
		assert.Error(t, json.Unmarshal([]byte(`"abc"`), &id))
		assert.Error(t, json.Unmarshal([]byte(`1.5`), &id))
	})
}

func TestParseID(t *testing.T) {
	id, err := ParseID(" 12 ")
	require.NoError(t, err)
	assert.Equal(t, ID(12), id)
	assert.Equal(t, "12", id.String())

	_, err = ParseID("twelve")
	assert.Error(t, err)
}

// ============================================================================
// Conversations and messages
// ============================================================================

func TestConversationUnmarshal(t *testing.T) {
	t.Run("direct", func(t *testing.T) {
		raw := `{"id":7,"name":"bob","lastMessage":"hi","timestamp":"2024-05-01T10:00:00Z",
			"isGroup":false,"userId":"3","isOnline":true,"user":{"id":3,"username":"bob","profile":{"image":"/media/bob.png"}}}`
		var c Conversation
		require.NoError(t, json.Unmarshal([]byte(raw), &c))

		assert.Equal(t, ID(7), c.ID)
		assert.Equal(t, KindDirect, c.Kind)
		assert.Equal(t, ID(3), c.PeerID)
		assert.Equal(t, "hi", c.LastMessage)
		assert.True(t, c.PeerOnline)
		assert.Equal(t, "/media/bob.png", c.Avatar)
		assert.True(t, c.LastActivity.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
	})

	t.Run("group drops peer", func(t *testing.T) {
		var c Conversation
		require.NoError(t, json.Unmarshal([]byte(`{"id":9,"name":"team","isGroup":true,"userId":4}`), &c))
		assert.True(t, c.IsGroup())
		assert.Zero(t, c.PeerID)
		assert.True(t, c.LastActivity.IsZero())
	})

	t.Run("unrecognized timestamp decodes as zero", func(t *testing.T) {
		var list []Conversation
		raw := `[{"id":1,"timestamp":"yesterday"},{"id":2,"timestamp":"2024-05-01T10:00:00Z"}]`
		require.NoError(t, json.Unmarshal([]byte(raw), &list))
		require.Len(t, list, 2)
		assert.True(t, list[0].LastActivity.IsZero())
		assert.False(t, list[1].LastActivity.IsZero())

		var m Message
		require.NoError(t, json.Unmarshal([]byte(`{"id":3,"content":"hi","timestamp":"01/05/2024"}`), &m))
		assert.Equal(t, "hi", m.Content)
		assert.True(t, m.Timestamp.IsZero())
	})

	t.Run("marshal keeps wire names", func(t *testing.T) {
		c := Conversation{ID: 5, Name: "eve", Kind: KindDirect, PeerID: 2, LastMessage: "yo",
			LastActivity: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
		data, err := json.Marshal(c)
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":5,"name":"eve","lastMessage":"yo","timestamp":"2024-01-02T03:04:05Z",
			"isGroup":false,"userId":2}`, string(data))
	})
}

func TestMessageUnmarshal(t *testing.T) {
	raw := `{"id":"11","conversation_id":7,"sender":"alice","sender_id":1,"content":"",
		"attachment":"/media/chat_attachments/a.png","timestamp":"2024-05-01T10:00:00.123456"}`
	var m Message
	require.NoError(t, json.Unmarshal([]byte(raw), &m))

	assert.Equal(t, ID(11), m.ID)
	assert.Equal(t, ID(7), m.ConversationID)
	assert.Equal(t, ID(1), m.SenderID)
	assert.Equal(t, AttachmentPreview, m.Preview())
	assert.Equal(t, 123456000, m.Timestamp.Nanosecond())

	m.Content = "look"
	assert.Equal(t, "look", m.Preview())
}

func TestParseTimestamp(t *testing.T) {
	valid := []string{
		"2024-05-01T10:00:00Z",
		"2024-05-01T10:00:00.5+02:00",
		"2024-05-01T10:00:00",
		"2024-05-01 10:00:00.250",
		"2024-05-01T10:00",
	}
	for _, s := range valid {
		ts, err := parseTimestamp(s)
		require.NoError(t, err, s)
		assert.False(t, ts.IsZero(), s)
	}

	ts, err := parseTimestamp("  ")
	require.NoError(t, err)
	assert.True(t, ts.IsZero())

	_, err = parseTimestamp("01/05/2024")
	assert.Error(t, err)
}

func TestUserDisplayName(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", User{Username: "ada", FirstName: "Ada", LastName: "Lovelace"}.DisplayName())
	assert.Equal(t, "Ada", User{Username: "ada", Name: "Ada"}.DisplayName())
	assert.Equal(t, "ada", User{Username: "ada"}.DisplayName())
}
