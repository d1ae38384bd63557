package rist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-rist/rist/internal/log"
)

func testPeerConfig() PeerConfig {
	cfg := PeerConfig{Address: "127.0.0.1:9001"}
	cfg.applyDefaults()
	return cfg
}

func TestPeerLifecycleTransitions(t *testing.T) {
	p, err := newPeer(testPeerConfig(), log.New(nil, log.PerspectiveReceiver))
	require.NoError(t, err)

	assert.Equal(t, PeerIdle, p.State())

	now := time.Now()
	p.touch(now)
	assert.Equal(t, PeerHandshaking, p.State())

	p.accept()
	assert.Equal(t, PeerAuthenticated, p.State())

	p.activate()
	assert.Equal(t, PeerActive, p.State())

	p.markDead("test")
	assert.Equal(t, PeerDead, p.State())

	// markDead is idempotent.
	p.markDead("test-again")
	assert.Equal(t, PeerDead, p.State())
}

func TestPeerCheckLivenessExpiresAfterSessionTimeout(t *testing.T) {
	p, err := newPeer(testPeerConfig(), log.New(nil, log.PerspectiveReceiver))
	require.NoError(t, err)

	now := time.Now()
	p.touch(now)
	assert.False(t, p.checkLiveness(now))
	assert.True(t, p.checkLiveness(now.Add(p.sessionTimeout+time.Millisecond)))
}

func TestPeerCheckLivenessIgnoresIdleAndDeadPeers(t *testing.T) {
	p, err := newPeer(testPeerConfig(), log.New(nil, log.PerspectiveReceiver))
	require.NoError(t, err)

	// Never touched: still idle, never times out.
	assert.False(t, p.checkLiveness(time.Now().Add(10*time.Hour)))

	p.touch(time.Now())
	p.markDead("gone")
	assert.False(t, p.checkLiveness(time.Now().Add(10*time.Hour)))
}

func TestPeerDecryptFailureThreshold(t *testing.T) {
	p, err := newPeer(testPeerConfig(), log.New(nil, log.PerspectiveReceiver))
	require.NoError(t, err)

	for i := 0; i < maxDecryptFailures-1; i++ {
		assert.False(t, p.onDecryptFailure())
	}
	assert.True(t, p.onDecryptFailure())

	p.resetDecryptFailures()
	assert.False(t, p.onDecryptFailure())
}

func TestPeerCipherForSaltCachesPerDistinctSalt(t *testing.T) {
	cfg := testPeerConfig()
	cfg.KeySize = KeySize128
	cfg.Secret = []byte("shared-secret")
	p, err := newPeer(cfg, log.New(nil, log.PerspectiveReceiver))
	require.NoError(t, err)

	var salt [16]byte
	for i := range salt {
		salt[i] = byte(i)
	}

	c1, err := p.cipherForSalt(salt)
	require.NoError(t, err)
	c2, err := p.cipherForSalt(salt)
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	var otherSalt [16]byte
	for i := range otherSalt {
		otherSalt[i] = byte(255 - i)
	}
	c3, err := p.cipherForSalt(otherSalt)
	require.NoError(t, err)
	assert.NotSame(t, c1, c3)
}

func TestPeerCipherForSaltUsesOwnCipherForOwnSalt(t *testing.T) {
	cfg := testPeerConfig()
	cfg.KeySize = KeySize256
	cfg.Secret = []byte("another-secret")
	p, err := newPeer(cfg, log.New(nil, log.PerspectiveReceiver))
	require.NoError(t, err)

	c, err := p.cipherForSalt(p.salt)
	require.NoError(t, err)
	assert.Same(t, p.cipher, c)
}
