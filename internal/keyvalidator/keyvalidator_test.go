package keyvalidator

import (
	"context"
	"sync"
	"testing"
	"time"

	"kadmesh/internal/crypto"
	"kadmesh/internal/kademlia"
)

func testID(b byte) kademlia.NodeID {
	var id kademlia.NodeID
	id[len(id)-1] = b
	return id
}

func TestRequestPublicKeyCacheHit(t *testing.T) {
	pub, _, err := crypto.GenKeypair()
	if err != nil {
		t.Fatalf("GenKeypair failed: %v", err)
	}
	v := New(nil)
	v.Seed(testID(1), pub)

	var gotOK bool
	var gotKey []byte
	v.RequestPublicKey(context.Background(), testID(1), func(pubKey []byte, ok bool) {
		gotKey = pubKey
		gotOK = ok
	})
	if !gotOK {
		t.Fatalf("expected cache hit to succeed")
	}
	if string(gotKey) != string(pub) {
		t.Fatalf("expected cached key to be returned")
	}
}

func TestRequestPublicKeyFetchMiss(t *testing.T) {
	v := New(func(ctx context.Context, id kademlia.NodeID) ([]byte, error) {
		return nil, nil // no key available
	})
	var wg sync.WaitGroup
	wg.Add(1)
	var gotOK bool
	v.RequestPublicKey(context.Background(), testID(2), func(pubKey []byte, ok bool) {
		gotOK = ok
		wg.Done()
	})
	waitOrFail(t, &wg)
	if gotOK {
		t.Fatalf("expected fetch miss to report ok=false")
	}
}

func TestRequestPublicKeyFetchSuccessPopulatesCache(t *testing.T) {
	pub, _, err := crypto.GenKeypair()
	if err != nil {
		t.Fatalf("GenKeypair failed: %v", err)
	}
	calls := 0
	var mu sync.Mutex
	v := New(func(ctx context.Context, id kademlia.NodeID) ([]byte, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return pub, nil
	})
	var wg sync.WaitGroup
	wg.Add(1)
	v.RequestPublicKey(context.Background(), testID(3), func(pubKey []byte, ok bool) {
		if !ok {
			t.Errorf("expected ok=true")
		}
		wg.Done()
	})
	waitOrFail(t, &wg)

	wg.Add(1)
	v.RequestPublicKey(context.Background(), testID(3), func(pubKey []byte, ok bool) {
		wg.Done()
	})
	waitOrFail(t, &wg)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected fetcher called once due to caching, got %d", calls)
	}
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for continuation")
	}
}
