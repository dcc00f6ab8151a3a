package pending

import (
	"testing"
	"time"

	"github.com/tsrpc-go/tsrpc/errs"
	"github.com/tsrpc-go/tsrpc/transportdata"
)

func TestSnStrictlyIncreasing(t *testing.T) {
	r := New(nil)
	var sns []uint32
	for i := 0; i < 5; i++ {
		sn, _, _ := r.Register("Test", 0, nil)
		sns = append(sns, sn)
	}
	for i := 1; i < len(sns); i++ {
		if sns[i] <= sns[i-1] {
			t.Fatalf("sns not strictly increasing: %v", sns)
		}
	}
}

func TestSettleDeliversAndDrainsSize(t *testing.T) {
	r := New(nil)
	sn, ch, _ := r.Register("Test", 0, nil)
	if r.Size() != 1 {
		t.Fatalf("expected size 1, got %d", r.Size())
	}

	ok := r.Settle(sn, transportdata.NewRes("Test", sn, []byte("1")))
	if !ok {
		t.Fatal("expected settle to succeed")
	}
	if r.Size() != 0 {
		t.Fatalf("expected size 0 after settle, got %d", r.Size())
	}

	select {
	case d := <-ch:
		if d.Sn != sn {
			t.Fatalf("unexpected sn %d", d.Sn)
		}
	default:
		t.Fatal("expected channel to have a value")
	}
}

func TestSecondSettleIsDropped(t *testing.T) {
	r := New(nil)
	sn, _, _ := r.Register("Test", 0, nil)
	if !r.Settle(sn, transportdata.NewRes("Test", sn, nil)) {
		t.Fatal("first settle should win")
	}
	if r.Settle(sn, transportdata.NewRes("Test", sn, nil)) {
		t.Fatal("second settle should be dropped")
	}
}

func TestSettleUnknownSnIsNoop(t *testing.T) {
	r := New(nil)
	if r.Settle(999, transportdata.NewRes("Test", 999, nil)) {
		t.Fatal("settle on unknown sn should report false")
	}
}

func TestAbortNeverResolvesAndDrainsSize(t *testing.T) {
	r := New(nil)
	aborted := false
	_, ch, abort := r.Register("Test", 0, func() { aborted = true })
	abort()
	if !aborted {
		t.Fatal("expected onAbort to fire")
	}
	if r.Size() != 0 {
		t.Fatalf("expected size 0 after abort, got %d", r.Size())
	}

	select {
	case <-ch:
		t.Fatal("aborted call must never resolve")
	case <-time.After(150 * time.Millisecond):
		// expected: still pending
	}
}

func TestLateSettleAfterAbortIsDropped(t *testing.T) {
	r := New(nil)
	sn, ch, abort := r.Register("Test", 0, nil)
	abort()
	if r.Settle(sn, transportdata.NewRes("Test", sn, nil)) {
		t.Fatal("settle after abort should be dropped")
	}
	select {
	case <-ch:
		t.Fatal("channel must not receive after abort")
	default:
	}
}

func TestTimeoutSettlesWithTimeoutError(t *testing.T) {
	r := New(nil)
	_, ch, _ := r.Register("Test", 20*time.Millisecond, nil)
	select {
	case d := <-ch:
		if d.Err == nil || d.Err.Code != errs.CodeTimeout {
			t.Fatalf("expected timeout error, got %+v", d.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected timeout to settle the call")
	}
}

func TestDisconnectAllSettlesWithNetworkError(t *testing.T) {
	r := New(nil)
	_, ch1, _ := r.Register("A", 0, nil)
	_, ch2, _ := r.Register("B", 0, nil)
	r.DisconnectAll()

	for _, ch := range []<-chan *transportdata.TransportData{ch1, ch2} {
		select {
		case d := <-ch:
			if d.Err == nil || d.Err.Type != errs.TypeNetwork {
				t.Fatalf("expected network error, got %+v", d.Err)
			}
		case <-time.After(time.Second):
			t.Fatal("expected disconnect to settle pending calls")
		}
	}
	if r.Size() != 0 {
		t.Fatalf("expected size 0 after disconnect, got %d", r.Size())
	}
}

func TestAbortByPredicate(t *testing.T) {
	r := New(nil)
	_, _, _ = r.Register("KeepMe", 0, nil)
	sn2, ch2, _ := r.Register("DropMe", 0, nil)

	r.AbortBy(func(apiName string) bool { return apiName == "DropMe" })

	if r.Size() != 1 {
		t.Fatalf("expected size 1 after targeted abort, got %d", r.Size())
	}
	select {
	case <-ch2:
		t.Fatal("aborted call must never resolve")
	default:
	}
	_ = sn2
}
