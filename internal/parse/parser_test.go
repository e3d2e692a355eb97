package parse

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/onebox/pkg/types"
)

func testParser() *Parser {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewParser(logger)
}

func rawMessage(uid uint32, body string) *types.RawMessage {
	return &types.RawMessage{
		UID:  uid,
		Body: []byte(strings.ReplaceAll(body, "\n", "\r\n")),
	}
}

const plainMessage = `Message-Id: <msg1@example.com>
From: Alice <alice@example.com>
To: Bob <bob@example.com>, Carol <carol@example.com>
Subject: Project kickoff
Date: Mon, 10 Mar 2025 09:30:00 +0000
Content-Type: text/plain; charset=utf-8

Let's get started next week.
`

func TestParsePlainMessage(t *testing.T) {
	p := testParser()

	email, err := p.Parse(rawMessage(7, plainMessage), "work", "INBOX")
	require.NoError(t, err)

	assert.Equal(t, "<msg1@example.com>", email.MessageID)
	assert.Equal(t, "Project kickoff", email.Subject)
	assert.Equal(t, "alice@example.com", email.From)
	assert.Equal(t, "bob@example.com", email.To, "first recipient is selected")
	assert.Equal(t, time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC), email.Date.UTC())
	assert.Contains(t, email.Text, "Let's get started")
	assert.Equal(t, "work", email.Account)
	assert.Equal(t, "INBOX", email.Folder)
	assert.Equal(t, uint32(7), email.UID)
	assert.Equal(t, types.CategoryUncategorized, email.Category)
}

func TestParseMultipartMessage(t *testing.T) {
	p := testParser()

	msg := `Message-Id: <mp@example.com>
From: alice@example.com
To: bob@example.com
Subject: Newsletter
Date: Mon, 10 Mar 2025 09:30:00 +0000
MIME-Version: 1.0
Content-Type: multipart/alternative; boundary="b1"

--b1
Content-Type: text/plain; charset=utf-8

plain version
--b1
Content-Type: text/html; charset=utf-8

<p>html <b>version</b></p>
--b1--
`
	email, err := p.Parse(rawMessage(1, msg), "work", "INBOX")
	require.NoError(t, err)
	assert.Contains(t, email.Text, "plain version")
	assert.Contains(t, email.HTML, "<b>version</b>")
}

func TestParseDefaultsForMissingHeaders(t *testing.T) {
	p := testParser()
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	msg := "Content-Type: text/plain\n\nhello\n"
	email, err := p.Parse(rawMessage(9, msg), "work", "INBOX")
	require.NoError(t, err)

	assert.Equal(t, DefaultSubject, email.Subject)
	assert.Equal(t, DefaultAddress, email.From)
	assert.Equal(t, DefaultAddress, email.To)
	assert.Equal(t, fixed, email.Date, "unparseable date falls back to current time")
	assert.Equal(t, SynthesizeMessageID("work", 9, fixed), email.MessageID)
}

func TestParsePrefersInternalDateOverNow(t *testing.T) {
	p := testParser()
	internal := time.Date(2025, 2, 2, 8, 0, 0, 0, time.UTC)

	raw := rawMessage(3, "Subject: x\n\nbody\n")
	raw.InternalDate = internal

	email, err := p.Parse(raw, "work", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, internal, email.Date)
}

func TestParseEmptyBodyIsParseError(t *testing.T) {
	p := testParser()

	_, err := p.Parse(rawMessage(5, ""), "work", "INBOX")
	require.Error(t, err)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, uint32(5), perr.UID)

	_, err = p.Parse(nil, "work", "INBOX")
	require.True(t, errors.As(err, &perr))
}

func TestParseHeaderOnlyMessageIsParseError(t *testing.T) {
	p := testParser()

	msg := "Subject: nothing here\nFrom: a@x\n\n"
	_, err := p.Parse(rawMessage(6, msg), "work", "INBOX")

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
}

func TestSynthesizedMessageIDIsDeterministic(t *testing.T) {
	d := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	a := SynthesizeMessageID("work", 42, d)
	b := SynthesizeMessageID("work", 42, d)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, SynthesizeMessageID("personal", 42, d))
	assert.NotEqual(t, a, SynthesizeMessageID("work", 43, d))
}
