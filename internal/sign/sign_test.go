// SPDX-License-Identifier: MIT

package sign

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kaedera/anigate/internal/classify"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestMintRedeemRoundTrip(t *testing.T) {
	b := New(testSecret, 10*time.Minute, 100)

	e := Entry{
		URL:  "https://cdn.example/a/low/index.m3u8",
		Ref:  "https://anime.example/watch/123",
		Kind: classify.KindPlaylistM3U8,
	}
	handle := b.Mint(e)
	require.Len(t, strings.Split(handle, "|"), 3)

	got, err := b.Redeem(handle)
	require.NoError(t, err)
	require.Equal(t, e, got)
}

func TestRedeemTamperedHandle(t *testing.T) {
	b := New(testSecret, 10*time.Minute, 100)
	handle := b.Mint(Entry{URL: "https://cdn.example/s.ts", Kind: classify.KindMediaSegment})
	parts := strings.Split(handle, "|")

	t.Run("forged expiry", func(t *testing.T) {
		_, err := b.Redeem(parts[0] + "|9999999999|" + parts[2])
		require.ErrorIs(t, err, ErrBadSignature)
	})
	t.Run("forged signature", func(t *testing.T) {
		sig := []byte(parts[2])
		sig[0] ^= 0xff
		_, err := b.Redeem(parts[0] + "|" + parts[1] + "|" + string(sig))
		require.ErrorIs(t, err, ErrBadSignature)
	})
	t.Run("unknown id", func(t *testing.T) {
		_, err := b.Redeem("no-such-id|" + parts[1] + "|" + parts[2])
		require.ErrorIs(t, err, ErrUnknownHandle)
	})
}

func TestRedeemMalformed(t *testing.T) {
	b := New(testSecret, 10*time.Minute, 100)

	for _, handle := range []string{
		"",
		"onlyid",
		"id|123",
		"id|123|sig|extra",
		"id|notanumber|sig",
		"|123|sig",
		"id|123|",
		strings.Repeat("x", maxHandleLen+1),
	} {
		_, err := b.Redeem(handle)
		require.ErrorIs(t, err, ErrMalformedHandle, "handle %q", handle)
	}
}

func TestRedeemExpired(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	b := New(testSecret, 10*time.Minute, 100, WithNow(now))

	handle := b.Mint(Entry{URL: "https://cdn.example/k.key", Kind: classify.KindOpaque})

	_, err := b.Redeem(handle)
	require.NoError(t, err)

	mu.Lock()
	clock = clock.Add(10*time.Minute + time.Second)
	mu.Unlock()

	_, err = b.Redeem(handle)
	require.ErrorIs(t, err, ErrExpiredHandle)
}

func TestEvictsOldestAtCapacity(t *testing.T) {
	b := New(testSecret, 10*time.Minute, 2)

	h1 := b.Mint(Entry{URL: "https://cdn.example/1.ts"})
	h2 := b.Mint(Entry{URL: "https://cdn.example/2.ts"})
	h3 := b.Mint(Entry{URL: "https://cdn.example/3.ts"})
	require.Equal(t, 2, b.Len())

	_, err := b.Redeem(h1)
	require.ErrorIs(t, err, ErrUnknownHandle)
	_, err = b.Redeem(h2)
	require.NoError(t, err)
	_, err = b.Redeem(h3)
	require.NoError(t, err)
}

func TestRedeemTouchKeepsHandleResident(t *testing.T) {
	b := New(testSecret, 10*time.Minute, 2)

	h1 := b.Mint(Entry{URL: "https://cdn.example/1.ts"})
	h2 := b.Mint(Entry{URL: "https://cdn.example/2.ts"})

	_, err := b.Redeem(h1)
	require.NoError(t, err)

	b.Mint(Entry{URL: "https://cdn.example/3.ts"})

	_, err = b.Redeem(h1)
	require.NoError(t, err, "recently redeemed handle must survive eviction")
	_, err = b.Redeem(h2)
	require.ErrorIs(t, err, ErrUnknownHandle)
}

func TestMintPurgesExpired(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	b := New(testSecret, time.Minute, 100, WithNow(now))

	for i := 0; i < 5; i++ {
		b.Mint(Entry{URL: "https://cdn.example/old.ts"})
	}
	require.Equal(t, 5, b.Len())

	mu.Lock()
	clock = clock.Add(2 * time.Minute)
	mu.Unlock()

	b.Mint(Entry{URL: "https://cdn.example/new.ts"})
	require.Equal(t, 1, b.Len())
}

func TestConcurrentMintRedeem(t *testing.T) {
	b := New(testSecret, 10*time.Minute, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h := b.Mint(Entry{URL: "https://cdn.example/x.ts"})
				if _, err := b.Redeem(h); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
