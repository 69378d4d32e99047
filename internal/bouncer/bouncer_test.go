package bouncer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/streamgate/streamgate/internal/auth"
	"github.com/streamgate/streamgate/internal/config"
)

func passwordKeycard(username, password, address string) *auth.Keycard {
	return &auth.Keycard{
		ID:       auth.NewKeycardID(),
		Method:   auth.MethodUsernamePassword,
		Address:  address,
		Username: username,
		Password: password,
	}
}

func TestNewNoneKind(t *testing.T) {
	b, err := New(config.BouncerConfig{Kind: "none"}, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestNewUnknownKind(t *testing.T) {
	_, err := New(config.BouncerConfig{Kind: "carrier-pigeon"}, nil, nil)
	assert.Error(t, err)
}

func TestIPFilter(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.BouncerConfig
		address string
		want    bool
	}{
		{
			name: "allowed network",
			cfg: config.BouncerConfig{
				Allow:       []string{"192.168.1.0/24"},
				DenyDefault: true,
			},
			address: "192.168.1.10",
			want:    true,
		},
		{
			name: "outside allowed network with deny default",
			cfg: config.BouncerConfig{
				Allow:       []string{"192.168.1.0/24"},
				DenyDefault: true,
			},
			address: "10.0.0.1",
			want:    false,
		},
		{
			name: "deny inside allow",
			cfg: config.BouncerConfig{
				Allow:       []string{"192.168.0.0/16"},
				Deny:        []string{"192.168.1.0/24"},
				DenyDefault: true,
			},
			address: "192.168.1.10",
			want:    false,
		},
		{
			// A denied network refuses even when a narrower allow sits
			// inside it: with deny_default any deny match is terminal.
			name: "allow inside enclosing deny",
			cfg: config.BouncerConfig{
				Allow:       []string{"192.168.1.128/25"},
				Deny:        []string{"192.0.0.0/8"},
				DenyDefault: true,
			},
			address: "192.168.1.200",
			want:    false,
		},
		{
			name: "no match without deny default",
			cfg: config.BouncerConfig{
				Deny: []string{"10.0.0.0/8"},
			},
			address: "172.16.0.1",
			want:    true,
		},
		{
			name: "deny match without deny default",
			cfg: config.BouncerConfig{
				Deny: []string{"10.0.0.0/8"},
			},
			address: "10.1.2.3",
			want:    false,
		},
		{
			name: "allow overrides deny without deny default",
			cfg: config.BouncerConfig{
				Allow: []string{"10.1.0.0/16"},
				Deny:  []string{"10.0.0.0/8"},
			},
			address: "10.1.2.3",
			want:    true,
		},
		{
			name: "single host network",
			cfg: config.BouncerConfig{
				Allow:       []string{"203.0.113.7/32"},
				DenyDefault: true,
			},
			address: "203.0.113.7",
			want:    true,
		},
		{
			name: "unparseable client address",
			cfg: config.BouncerConfig{
				Allow: []string{"0.0.0.0/0"},
			},
			address: "not-an-ip",
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := newIPFilter(tt.cfg)
			require.NoError(t, err)

			kc := &auth.Keycard{
				ID:      auth.NewKeycardID(),
				Method:  auth.MethodIPAddress,
				Address: tt.address,
			}
			result, err := l.authenticate(kc)
			require.NoError(t, err)
			if tt.want {
				assert.Equal(t, auth.Authenticated, result.State)
			} else {
				assert.Equal(t, auth.Refused, result.State)
			}
		})
	}
}

func TestIPFilterBadNetwork(t *testing.T) {
	_, err := newIPFilter(config.BouncerConfig{Allow: []string{"not-a-network"}})
	assert.Error(t, err)

	// A bare address without a mask is a configuration error, not an
	// implicit /32.
	_, err = newIPFilter(config.BouncerConfig{Allow: []string{"203.0.113.7"}})
	assert.Error(t, err)
}

func TestTokenTest(t *testing.T) {
	l, err := newTokenTest(config.BouncerConfig{Token: "sesame"})
	require.NoError(t, err)

	kc := &auth.Keycard{ID: auth.NewKeycardID(), Method: auth.MethodToken, Token: "sesame"}
	result, err := l.authenticate(kc)
	require.NoError(t, err)
	assert.Equal(t, auth.Authenticated, result.State)

	kc = &auth.Keycard{ID: auth.NewKeycardID(), Method: auth.MethodToken, Token: "wrong"}
	result, err = l.authenticate(kc)
	require.NoError(t, err)
	assert.Equal(t, auth.Refused, result.State)

	kc = &auth.Keycard{ID: auth.NewKeycardID(), Method: auth.MethodToken}
	result, err = l.authenticate(kc)
	require.NoError(t, err)
	assert.Equal(t, auth.Refused, result.State)
}

func TestSaltSha256(t *testing.T) {
	data := "alice:pepper:" + auth.SaltedPassword("pepper", "wonderland") + "\n"
	l, err := newSaltSha256(config.BouncerConfig{Kind: "saltsha256", HtpasswdData: data})
	require.NoError(t, err)

	result, err := l.authenticate(passwordKeycard("alice", "wonderland", "10.0.0.1"))
	require.NoError(t, err)
	assert.Equal(t, auth.Authenticated, result.State)

	result, err = l.authenticate(passwordKeycard("alice", "looking-glass", "10.0.0.1"))
	require.NoError(t, err)
	assert.Equal(t, auth.Refused, result.State)

	result, err = l.authenticate(passwordKeycard("bob", "wonderland", "10.0.0.1"))
	require.NoError(t, err)
	assert.Equal(t, auth.Refused, result.State)
}

func TestSaltSha256RejectsBcryptEntries(t *testing.T) {
	_, err := newSaltSha256(config.BouncerConfig{
		Kind:         "saltsha256",
		HtpasswdData: "alice:$2a$10$abcdefghijklmnopqrstuv\n",
	})
	assert.Error(t, err)
}

func TestHtpasswdBcrypt(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	l, err := newHtpasswd(config.BouncerConfig{
		Kind:         "htpasswd",
		HtpasswdData: "carol:" + string(hash) + "\n# comment line\n",
	})
	require.NoError(t, err)

	result, err := l.authenticate(passwordKeycard("carol", "s3cret", "10.0.0.1"))
	require.NoError(t, err)
	assert.Equal(t, auth.Authenticated, result.State)

	result, err = l.authenticate(passwordKeycard("carol", "guess", "10.0.0.1"))
	require.NoError(t, err)
	assert.Equal(t, auth.Refused, result.State)
}

func TestHtpasswdChallengeExchange(t *testing.T) {
	data := "dave:grain:" + auth.SaltedPassword("grain", "hunter2") + "\n"
	l, err := newHtpasswd(config.BouncerConfig{Kind: "htpasswd", HtpasswdData: data})
	require.NoError(t, err)

	kc := passwordKeycard("dave", "hunter2", "10.0.0.1")
	first, err := l.authenticate(kc)
	require.NoError(t, err)
	require.Equal(t, auth.Requesting, first.State)
	require.NotEmpty(t, first.Challenge)
	assert.Equal(t, "grain", first.Salt)

	first.Response = auth.ChallengeResponse(first.Challenge, first.Salt, "hunter2")
	second, err := l.authenticate(first)
	require.NoError(t, err)
	assert.Equal(t, auth.Authenticated, second.State)
}

func TestHtpasswdChallengeWrongPassword(t *testing.T) {
	data := "dave:grain:" + auth.SaltedPassword("grain", "hunter2") + "\n"
	l, err := newHtpasswd(config.BouncerConfig{Kind: "htpasswd", HtpasswdData: data})
	require.NoError(t, err)

	kc := passwordKeycard("dave", "wrong", "10.0.0.1")
	first, err := l.authenticate(kc)
	require.NoError(t, err)
	require.Equal(t, auth.Requesting, first.State)

	first.Response = auth.ChallengeResponse(first.Challenge, first.Salt, "wrong")
	second, err := l.authenticate(first)
	require.NoError(t, err)
	assert.Equal(t, auth.Refused, second.State)
}

func TestHtpasswdChallengeTamper(t *testing.T) {
	data := "dave:grain:" + auth.SaltedPassword("grain", "hunter2") + "\n"
	l, err := newHtpasswd(config.BouncerConfig{Kind: "htpasswd", HtpasswdData: data})
	require.NoError(t, err)

	kc := passwordKeycard("dave", "hunter2", "10.0.0.1")
	first, err := l.authenticate(kc)
	require.NoError(t, err)
	require.Equal(t, auth.Requesting, first.State)

	// Swapping the challenge for one the attacker precomputed a response
	// to must be detected against the stored challenge.
	first.Challenge = "attacker-chosen"
	first.Response = auth.ChallengeResponse(first.Challenge, first.Salt, "hunter2")
	second, err := l.authenticate(first)
	require.NoError(t, err)
	assert.Equal(t, auth.Refused, second.State)

	// The exchange is dead after a tamper refusal; a correct response
	// cannot resurrect it.
	again := passwordKeycard("dave", "hunter2", "10.0.0.1")
	again.ID = kc.ID
	again.Challenge = first.Challenge
	again.Response = first.Response
	result, err := l.authenticate(again)
	require.NoError(t, err)
	assert.Equal(t, auth.Refused, result.State)
}

func TestHtpasswdResponseWithoutChallenge(t *testing.T) {
	data := "dave:grain:" + auth.SaltedPassword("grain", "hunter2") + "\n"
	l, err := newHtpasswd(config.BouncerConfig{Kind: "htpasswd", HtpasswdData: data})
	require.NoError(t, err)

	kc := passwordKeycard("dave", "hunter2", "10.0.0.1")
	kc.Challenge = "made-up"
	kc.Response = auth.ChallengeResponse("made-up", "grain", "hunter2")
	result, err := l.authenticate(kc)
	require.NoError(t, err)
	assert.Equal(t, auth.Refused, result.State)
}

func TestCredStoreFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users")
	data := "erin:spice:" + auth.SaltedPassword("spice", "pw") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	store, err := loadCredStore(config.BouncerConfig{Kind: "htpasswd", HtpasswdFile: path}, false)
	require.NoError(t, err)
	entry, ok := store.users["erin"]
	require.True(t, ok)
	assert.Equal(t, "spice", entry.salt)
}

func TestMultiExpression(t *testing.T) {
	lanToken := config.BouncerConfig{
		Kind:        "ip",
		Allow:       []string{"192.168.0.0/16"},
		DenyDefault: true,
	}
	shared := config.BouncerConfig{Kind: "token", Token: "sesame"}

	tests := []struct {
		name       string
		expression string
		address    string
		token      string
		want       auth.KeycardState
	}{
		{"and both pass", "lan and shared", "192.168.1.1", "sesame", auth.Authenticated},
		{"and left fails", "lan and shared", "10.0.0.1", "sesame", auth.Refused},
		{"or left passes", "lan or shared", "192.168.1.1", "", auth.Authenticated},
		{"or right passes", "lan or shared", "10.0.0.1", "sesame", auth.Authenticated},
		{"or both fail", "lan or shared", "10.0.0.1", "", auth.Refused},
		{"not inverts", "not lan", "10.0.0.1", "", auth.Authenticated},
		{"parens", "not (lan and shared)", "192.168.1.1", "sesame", auth.Refused},
		{"keywords case insensitive", "lan AND shared", "192.168.1.1", "sesame", auth.Authenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := newMulti(config.BouncerConfig{
				Kind:       "multi",
				Expression: tt.expression,
				Bouncers: map[string]config.BouncerConfig{
					"lan":    lanToken,
					"shared": shared,
				},
			})
			require.NoError(t, err)

			kc := &auth.Keycard{
				ID:      auth.NewKeycardID(),
				Method:  auth.MethodToken,
				Address: tt.address,
				Token:   tt.token,
			}
			result, err := l.authenticate(kc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.State)
		})
	}
}

// countingLogic tracks evaluation to prove short-circuiting.
type countingLogic struct {
	calls int
	grant bool
}

func (c *countingLogic) authenticate(keycard *auth.Keycard) (*auth.Keycard, error) {
	c.calls++
	if c.grant {
		keycard.State = auth.Authenticated
	} else {
		keycard.State = auth.Refused
	}
	return keycard, nil
}

func TestMultiShortCircuit(t *testing.T) {
	left := &countingLogic{grant: false}
	right := &countingLogic{}
	expr, err := parseBoolExpr("left and right")
	require.NoError(t, err)

	logics := map[string]logic{"left": left, "right": right}
	m := &multiLogic{expr: expr, logics: logics}

	result, err := m.authenticate(&auth.Keycard{ID: auth.NewKeycardID()})
	require.NoError(t, err)
	assert.Equal(t, auth.Refused, result.State)
	assert.Equal(t, 1, left.calls)
	assert.Equal(t, 0, right.calls, "right term must not run after left refused an and")

	left.grant = true
	expr, err = parseBoolExpr("left or right")
	require.NoError(t, err)
	m = &multiLogic{expr: expr, logics: logics}
	result, err = m.authenticate(&auth.Keycard{ID: auth.NewKeycardID()})
	require.NoError(t, err)
	assert.Equal(t, auth.Authenticated, result.State)
	assert.Equal(t, 0, right.calls, "right term must not run after left granted an or")
}

func TestMultiExpressionErrors(t *testing.T) {
	base := map[string]config.BouncerConfig{
		"lan": {Kind: "ip", Allow: []string{"10.0.0.0/8"}},
	}

	tests := []struct {
		name       string
		expression string
	}{
		{"unknown bouncer", "lan and ghost"},
		{"dangling operator", "lan and"},
		{"unbalanced parens", "(lan"},
		{"stray close", "lan)"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newMulti(config.BouncerConfig{
				Kind:       "multi",
				Expression: tt.expression,
				Bouncers:   base,
			})
			assert.Error(t, err)
		})
	}
}

func TestICalActiveEvent(t *testing.T) {
	calendar := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//streamgate//test//EN\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:short@test\r\n" +
		"DTSTART:20260828T100000Z\r\n" +
		"DTEND:20260828T120000Z\r\n" +
		"END:VEVENT\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:long@test\r\n" +
		"DTSTART:20260828T000000Z\r\n" +
		"DTEND:20260830T000000Z\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	path := filepath.Join(t.TempDir(), "schedule.ics")
	require.NoError(t, os.WriteFile(path, []byte(calendar), 0o600))

	l, err := newICal(config.BouncerConfig{Kind: "ical", ICalFile: path})
	require.NoError(t, err)

	// Inside both events: the later end wins, capped at one day.
	l.now = func() time.Time {
		return time.Date(2026, 8, 28, 11, 0, 0, 0, time.UTC)
	}
	result, err := l.authenticate(&auth.Keycard{ID: auth.NewKeycardID()})
	require.NoError(t, err)
	assert.Equal(t, auth.Authenticated, result.State)
	assert.Equal(t, 24*time.Hour, result.Duration)

	// Near the end of the last event the grant shrinks to what remains.
	l.now = func() time.Time {
		return time.Date(2026, 8, 29, 22, 0, 0, 0, time.UTC)
	}
	result, err = l.authenticate(&auth.Keycard{ID: auth.NewKeycardID()})
	require.NoError(t, err)
	assert.Equal(t, auth.Authenticated, result.State)
	assert.Equal(t, 2*time.Hour, result.Duration)

	// Outside every event.
	l.now = func() time.Time {
		return time.Date(2026, 8, 30, 1, 0, 0, 0, time.UTC)
	}
	result, err = l.authenticate(&auth.Keycard{ID: auth.NewKeycardID()})
	require.NoError(t, err)
	assert.Equal(t, auth.Refused, result.State)
}

func TestICalRecurringEvent(t *testing.T) {
	calendar := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//streamgate//test//EN\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:daily@test\r\n" +
		"DTSTART:20260801T100000Z\r\n" +
		"DTEND:20260801T110000Z\r\n" +
		"RRULE:FREQ=DAILY\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	path := filepath.Join(t.TempDir(), "recurring.ics")
	require.NoError(t, os.WriteFile(path, []byte(calendar), 0o600))

	l, err := newICal(config.BouncerConfig{Kind: "ical", ICalFile: path})
	require.NoError(t, err)

	// Weeks past the first occurrence the daily window still opens.
	l.now = func() time.Time {
		return time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC)
	}
	result, err := l.authenticate(&auth.Keycard{ID: auth.NewKeycardID()})
	require.NoError(t, err)
	assert.Equal(t, auth.Authenticated, result.State)
	assert.Equal(t, 30*time.Minute, result.Duration)

	// Between occurrences access is refused.
	l.now = func() time.Time {
		return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	}
	result, err = l.authenticate(&auth.Keycard{ID: auth.NewKeycardID()})
	require.NoError(t, err)
	assert.Equal(t, auth.Refused, result.State)
}

func TestICalOverlappingEventsChain(t *testing.T) {
	calendar := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//streamgate//test//EN\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:first@test\r\n" +
		"DTSTART:20260828T100000Z\r\n" +
		"DTEND:20260828T120000Z\r\n" +
		"END:VEVENT\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:second@test\r\n" +
		"DTSTART:20260828T113000Z\r\n" +
		"DTEND:20260828T140000Z\r\n" +
		"END:VEVENT\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:third@test\r\n" +
		"DTSTART:20260828T135900Z\r\n" +
		"DTEND:20260828T150000Z\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	path := filepath.Join(t.TempDir(), "chain.ics")
	require.NoError(t, os.WriteFile(path, []byte(calendar), 0o600))

	l, err := newICal(config.BouncerConfig{Kind: "ical", ICalFile: path})
	require.NoError(t, err)

	// Only the first event is active, but the grant runs through the
	// whole overlapping chain.
	l.now = func() time.Time {
		return time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC)
	}
	result, err := l.authenticate(&auth.Keycard{ID: auth.NewKeycardID()})
	require.NoError(t, err)
	assert.Equal(t, auth.Authenticated, result.State)
	assert.Equal(t, 4*time.Hour+30*time.Minute, result.Duration)

	// After the chain ends the gap is real.
	l.now = func() time.Time {
		return time.Date(2026, 8, 28, 15, 30, 0, 0, time.UTC)
	}
	result, err = l.authenticate(&auth.Keycard{ID: auth.NewKeycardID()})
	require.NoError(t, err)
	assert.Equal(t, auth.Refused, result.State)
}

func TestICalBadRecurrenceRule(t *testing.T) {
	calendar := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//streamgate//test//EN\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:broken@test\r\n" +
		"DTSTART:20260828T100000Z\r\n" +
		"DTEND:20260828T120000Z\r\n" +
		"RRULE:FREQ=BOGUS\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	path := filepath.Join(t.TempDir(), "broken.ics")
	require.NoError(t, os.WriteFile(path, []byte(calendar), 0o600))

	_, err := newICal(config.BouncerConfig{Kind: "ical", ICalFile: path})
	assert.Error(t, err)
}

func TestICalMissingFile(t *testing.T) {
	_, err := newICal(config.BouncerConfig{Kind: "ical", ICalFile: "/does/not/exist.ics"})
	assert.Error(t, err)
}

func TestBouncerTracksGrants(t *testing.T) {
	b, err := New(config.BouncerConfig{Kind: "token", Token: "sesame"}, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	kc := &auth.Keycard{ID: auth.NewKeycardID(), Method: auth.MethodToken, Token: "sesame"}
	result, err := b.Authenticate(ctx, kc)
	require.NoError(t, err)
	require.Equal(t, auth.Authenticated, result.State)
	assert.Equal(t, 1, b.Tracked())

	require.NoError(t, b.RemoveKeycardID(kc.ID))
	assert.Equal(t, 0, b.Tracked())
}

func TestBouncerRefusesReplayedKeycardID(t *testing.T) {
	b, err := New(config.BouncerConfig{Kind: "token", Token: "sesame"}, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	id := auth.NewKeycardID()
	first := &auth.Keycard{ID: id, Method: auth.MethodToken, Token: "sesame"}
	result, err := b.Authenticate(ctx, first)
	require.NoError(t, err)
	require.Equal(t, auth.Authenticated, result.State)

	replay := &auth.Keycard{ID: id, Method: auth.MethodToken, Token: "sesame"}
	result, err = b.Authenticate(ctx, replay)
	require.NoError(t, err)
	assert.Equal(t, auth.Refused, result.State)
}

func TestBouncerDisableExpiresKeycards(t *testing.T) {
	b, err := New(config.BouncerConfig{Kind: "token", Token: "sesame"}, nil, nil)
	require.NoError(t, err)

	var expired []string
	b.OnExpire(func(ids []string) { expired = append(expired, ids...) })

	ctx := context.Background()
	kc := &auth.Keycard{ID: auth.NewKeycardID(), Method: auth.MethodToken, Token: "sesame"}
	_, err = b.Authenticate(ctx, kc)
	require.NoError(t, err)

	b.SetEnabled(false)
	assert.Equal(t, []string{kc.ID}, expired)
	assert.Equal(t, 0, b.Tracked())

	result, err := b.Authenticate(ctx, &auth.Keycard{
		ID: auth.NewKeycardID(), Method: auth.MethodToken, Token: "sesame",
	})
	require.NoError(t, err)
	assert.Equal(t, auth.Refused, result.State)
}

func TestBouncerTTLSweep(t *testing.T) {
	b, err := New(config.BouncerConfig{Kind: "token", Token: "sesame"}, nil, nil)
	require.NoError(t, err)

	var expired []string
	b.OnExpire(func(ids []string) { expired = append(expired, ids...) })

	ctx := context.Background()
	kc := &auth.Keycard{
		ID:     auth.NewKeycardID(),
		Method: auth.MethodToken,
		Token:  "sesame",
		TTL:    time.Nanosecond,
	}
	_, err = b.Authenticate(ctx, kc)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	b.sweep()
	assert.Equal(t, []string{kc.ID}, expired)
	assert.Equal(t, 0, b.Tracked())
}

func TestBouncerKeepAliveExtendsTTL(t *testing.T) {
	b, err := New(config.BouncerConfig{Kind: "token", Token: "sesame"}, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	kc := &auth.Keycard{
		ID:         auth.NewKeycardID(),
		Method:     auth.MethodToken,
		Token:      "sesame",
		IssuerName: "streamer-1",
		TTL:        time.Nanosecond,
	}
	_, err = b.Authenticate(ctx, kc)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, b.KeepAlive("streamer-1", time.Hour))
	b.sweep()
	assert.Equal(t, 1, b.Tracked(), "keep-alive must outlive the sweep")
}
