package messages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamstack/crewchat/backend/internal/conversations"
)

func TestSendDirectMessage(t *testing.T) {
	e, fb, db := newTestEngine(t)
	alice := seedUser(t, db, "alice", "developer")
	bob := seedUser(t, db, "bob", "developer")
	conv := seedConversation(t, db, conversations.TypeDirect, nil, alice, bob)

	msg := sendText(t, e, alice, conv, "hello")

	require.NotZero(t, msg.ID)
	assert.Equal(t, TypeText, msg.Type)
	assert.Equal(t, "alice", msg.SenderName)

	// Readers at creation: the sender and nobody else.
	require.Len(t, msg.Readers, 1)
	assert.Equal(t, alice, msg.Readers[0].ID)

	// Exactly one durable notification, addressed to the other participant.
	assert.Equal(t, 1, countNotifications(t, db, bob))
	assert.Equal(t, 0, countNotifications(t, db, alice))

	notifs := fb.byEvent("notification")
	require.Len(t, notifs, 1)
	assert.Equal(t, bob, notifs[0].Recipient)

	rooms := fb.byEvent("receive_message")
	require.Len(t, rooms, 1)
	assert.Equal(t, conv, rooms[0].Room)
	assert.Equal(t, alice, rooms[0].Exclude)
}

func TestSendGroupFanout(t *testing.T) {
	e, fb, db := newTestEngine(t)
	a := seedUser(t, db, "a", "developer")
	b := seedUser(t, db, "b", "developer")
	c := seedUser(t, db, "c", "developer")
	conv := seedConversation(t, db, conversations.TypeGroup, []int64{a}, a, b, c)

	msg := sendText(t, e, a, conv, "hello")
	require.Len(t, msg.Readers, 1)

	// One notification per participant minus the sender.
	assert.Equal(t, 0, countNotifications(t, db, a))
	assert.Equal(t, 1, countNotifications(t, db, b))
	assert.Equal(t, 1, countNotifications(t, db, c))

	var title string
	require.NoError(t, db.QueryRow(
		`SELECT title FROM notifications WHERE recipient_id=?`, b).Scan(&title))
	assert.Equal(t, "New Group Message", title)

	recipients := map[int64]bool{}
	for _, p := range fb.byEvent("notification") {
		recipients[p.Recipient] = true
	}
	assert.Equal(t, map[int64]bool{b: true, c: true}, recipients)
}

func TestSendDirectNotificationTitle(t *testing.T) {
	e, _, db := newTestEngine(t)
	a := seedUser(t, db, "a", "developer")
	b := seedUser(t, db, "b", "developer")
	conv := seedConversation(t, db, conversations.TypeDirect, nil, a, b)

	sendText(t, e, a, conv, "hi")

	var title string
	require.NoError(t, db.QueryRow(
		`SELECT title FROM notifications WHERE recipient_id=?`, b).Scan(&title))
	assert.Equal(t, "New Direct Message", title)
}

func TestSendConversationNotFound(t *testing.T) {
	e, _, db := newTestEngine(t)
	alice := seedUser(t, db, "alice", "developer")

	_, err := e.Send(context.Background(), SendInput{
		SenderID: alice, ConversationID: 42, Text: "hello",
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSendForbiddenLeavesNoTrace(t *testing.T) {
	e, fb, db := newTestEngine(t)
	a := seedUser(t, db, "a", "developer")
	b := seedUser(t, db, "b", "developer")
	outsider := seedUser(t, db, "outsider", "developer")
	conv := seedConversation(t, db, conversations.TypeGroup, []int64{a}, a, b)

	_, err := e.Send(context.Background(), SendInput{
		SenderID: outsider, ConversationID: conv, Text: "let me in",
	})
	require.ErrorIs(t, err, ErrForbidden)
	e.Wait()

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(1) FROM messages`).Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, db.QueryRow(`SELECT COUNT(1) FROM notifications`).Scan(&n))
	assert.Zero(t, n)
	assert.Empty(t, fb.pushes)
}

func TestSendEmptyBody(t *testing.T) {
	e, fb, db := newTestEngine(t)
	a := seedUser(t, db, "a", "developer")
	b := seedUser(t, db, "b", "developer")
	conv := seedConversation(t, db, conversations.TypeDirect, nil, a, b)

	_, err := e.Send(context.Background(), SendInput{
		SenderID: a, ConversationID: conv, Text: "   ",
	})
	require.ErrorIs(t, err, ErrInvalidInput)
	e.Wait()
	assert.Empty(t, fb.pushes)
}

func TestSendMentionsBothChannels(t *testing.T) {
	e, fb, db := newTestEngine(t)
	a := seedUser(t, db, "a", "developer")
	b := seedUser(t, db, "b", "developer")
	conv := seedConversation(t, db, conversations.TypeDirect, nil, a, b)

	// Duplicate and self mentions collapse to just the other user.
	msg := sendText(t, e, a, conv, "hey @b", b, b, a)
	assert.Equal(t, []int64{b}, msg.Mentions)

	mentions := fb.byEvent("mentioned_in_message")
	require.Len(t, mentions, 1)
	assert.Equal(t, b, mentions[0].Recipient)
	ev, ok := mentions[0].Payload.(MentionEvent)
	require.True(t, ok)
	assert.Equal(t, msg.ID, ev.MessageID)
	assert.Equal(t, "a", ev.SenderName)

	// The mention does not replace the regular notification channel.
	assert.Equal(t, 1, countNotifications(t, db, b))
	require.Len(t, fb.byEvent("notification"), 1)
}

func TestSendAttachment(t *testing.T) {
	e, _, db := newTestEngine(t)
	a := seedUser(t, db, "a", "developer")
	b := seedUser(t, db, "b", "developer")
	conv := seedConversation(t, db, conversations.TypeDirect, nil, a, b)

	msg, err := e.Send(context.Background(), SendInput{
		SenderID:       a,
		ConversationID: conv,
		Attachment: &Attachment{
			URL: "/uploads/x.ogg", Mime: "audio/ogg", Name: "note.ogg", Size: 1234, Kind: TypeAudio,
		},
		AudioDuration: 7.5,
	})
	require.NoError(t, err)
	e.Wait()

	assert.Equal(t, TypeAudio, msg.Type)
	assert.Equal(t, 7.5, msg.AudioDuration)

	reloaded, err := e.Store.Get(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "/uploads/x.ogg", reloaded.FileURL)
	assert.Equal(t, int64(1234), reloaded.FileSize)
}

func TestAnnounceSystemMessage(t *testing.T) {
	e, fb, db := newTestEngine(t)
	a := seedUser(t, db, "a", "developer")
	b := seedUser(t, db, "b", "developer")
	conv := seedConversation(t, db, conversations.TypeGroup, []int64{a}, a, b)

	e.Announce(context.Background(), conv, a, "a added b")

	list, err := e.Store.ListByConversation(context.Background(), conv)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, TypeSystem, list[0].Type)
	assert.Equal(t, "a added b", list[0].Text)

	// Stamps go to the room but create no durable notifications.
	assert.Equal(t, 0, countNotifications(t, db, b))
	require.Len(t, fb.byEvent("receive_message"), 1)
}

func TestListRequiresMembership(t *testing.T) {
	e, _, db := newTestEngine(t)
	a := seedUser(t, db, "a", "developer")
	b := seedUser(t, db, "b", "developer")
	outsider := seedUser(t, db, "x", "developer")
	conv := seedConversation(t, db, conversations.TypeDirect, nil, a, b)
	sendText(t, e, a, conv, "one")
	sendText(t, e, b, conv, "two")

	_, list, err := e.List(context.Background(), conv, a)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "one", list[0].Text)
	assert.Equal(t, "two", list[1].Text)

	_, _, err = e.List(context.Background(), conv, outsider)
	assert.ErrorIs(t, err, ErrForbidden)
}
