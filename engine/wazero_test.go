package engine

import (
	"context"
	stderrors "errors"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/afero"

	voiceruntime "github.com/auricleai/voice-runtime"
	"github.com/auricleai/voice-runtime/errors"
	"github.com/auricleai/voice-runtime/protocol"
	"github.com/auricleai/voice-runtime/stream"
)

func TestNew_ConfigVariants(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		cfg  *Config
		name string
	}{
		{nil, "nil config"},
		{&Config{}, "default config"},
		{&Config{MemoryLimitPages: 256}, "16MB limit"},
		{&Config{EnableWASI: true}, "WASI enabled"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			eng := New(ctx, tc.cfg)
			if eng.runtime == nil {
				t.Error("engine runtime should not be nil")
			}
			if eng.Registry() == nil {
				t.Error("engine registry should not be nil")
			}
			if err := eng.Close(ctx); err != nil {
				t.Errorf("Close failed: %v", err)
			}
		})
	}
}

func TestEngine_LoadFile(t *testing.T) {
	ctx := context.Background()

	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "engines/guest.wasm", buildGuest(guestSpec{}), 0o644); err != nil {
		t.Fatalf("write module: %v", err)
	}

	eng := New(ctx, nil)
	defer eng.Close(ctx)

	mod, err := eng.LoadFile(ctx, fs, "engines/guest.wasm")
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	defer inst.Close(ctx)

	_, err = eng.LoadFile(ctx, fs, "engines/missing.wasm")
	if err == nil {
		t.Fatal("expected error for missing module file")
	}
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Phase != errors.PhaseLoad {
		t.Errorf("expected load phase error, got %v", err)
	}
}

func TestInstance_ABIRoundTrip(t *testing.T) {
	ctx := context.Background()

	wantCtx := protocol.Context{
		ModelPath:  "models/ggml-tiny.bin",
		WakeWords:  []string{"wake"},
		Transcript: "",
	}
	ctxPayload, err := protocol.EncodeContext(wantCtx)
	if err != nil {
		t.Fatalf("encode context: %v", err)
	}
	respTag, respPayload, err := protocol.EncodeResponse(protocol.Text{Value: "hello world"})
	if err != nil {
		t.Fatalf("encode response: %v", err)
	}

	eng := New(ctx, nil)
	defer eng.Close(ctx)

	mod, err := eng.LoadModule(ctx, buildGuest(guestSpec{
		ctxPayload:  ctxPayload,
		respTag:     uint32(respTag),
		respPayload: respPayload,
	}))
	if err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	defer inst.Close(ctx)

	ptr, length, err := inst.InitContext(ctx, 0, 0, 0, 0)
	if err != nil {
		t.Fatalf("InitContext failed: %v", err)
	}
	if ptr == 0 {
		t.Fatal("InitContext returned the null sentinel")
	}
	if length != uint32(len(ctxPayload)) {
		t.Fatalf("InitContext length = %d, want %d", length, len(ctxPayload))
	}
	data, err := inst.Memory().Read(ptr, length)
	if err != nil {
		t.Fatalf("read context buffer: %v", err)
	}
	gotCtx, err := protocol.DecodeContext(data)
	if err != nil {
		t.Fatalf("decode context: %v", err)
	}
	if !reflect.DeepEqual(gotCtx, wantCtx) {
		t.Errorf("context = %+v, want %+v", gotCtx, wantCtx)
	}
	if err := inst.FreeBuffer(ctx, ptr, length); err != nil {
		t.Fatalf("free context buffer: %v", err)
	}
	if got := freeCount(t, inst); got != 1 {
		t.Errorf("free_buffer call count = %d, want 1", got)
	}

	tag, rptr, rlen, err := inst.SendMessage(ctx, uint8(protocol.TagTranscribe), 0, 0)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if tag != uint8(protocol.TagText) {
		t.Fatalf("response tag = %d, want %d", tag, protocol.TagText)
	}
	data, err = inst.Memory().Read(rptr, rlen)
	if err != nil {
		t.Fatalf("read response buffer: %v", err)
	}
	resp, err := protocol.DecodeResponse(protocol.ResponseTag(tag), data)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	text, ok := resp.(protocol.Text)
	if !ok {
		t.Fatalf("response type = %T, want protocol.Text", resp)
	}
	if text.Value != "hello world" {
		t.Errorf("response text = %q, want %q", text.Value, "hello world")
	}
	if err := inst.FreeBuffer(ctx, rptr, rlen); err != nil {
		t.Fatalf("free response buffer: %v", err)
	}
	if got := freeCount(t, inst); got != 2 {
		t.Errorf("free_buffer call count = %d, want 2", got)
	}
}

func freeCount(t *testing.T, inst *Instance) uint64 {
	t.Helper()
	g := inst.mod.ExportedGlobal("free_count")
	if g == nil {
		t.Fatal("free_count global not exported")
	}
	return g.Get()
}

func TestInstance_NullResponseSentinel(t *testing.T) {
	ctx := context.Background()

	eng := New(ctx, nil)
	defer eng.Close(ctx)

	mod, err := eng.LoadModule(ctx, buildGuest(guestSpec{respNull: true}))
	if err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	defer inst.Close(ctx)

	tag, ptr, length, err := inst.SendMessage(ctx, uint8(protocol.TagDetectWakeWords), 0, 0)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if tag != 0 || ptr != 0 || length != 0 {
		t.Errorf("null sentinel = (%d, %d, %d), want all zero", tag, ptr, length)
	}
}

func TestInstance_ResponseTagOutOfRange(t *testing.T) {
	ctx := context.Background()

	eng := New(ctx, nil)
	defer eng.Close(ctx)

	mod, err := eng.LoadModule(ctx, buildGuest(guestSpec{
		respTag:     300,
		respPayload: []byte{0x00},
	}))
	if err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	defer inst.Close(ctx)

	_, _, _, err = inst.SendMessage(ctx, uint8(protocol.TagDebug), 0, 0)
	if err == nil {
		t.Fatal("expected error for out-of-range tag word")
	}
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindUnknownTag {
		t.Errorf("expected unknown_tag error, got %v", err)
	}
}

func TestInstance_MissingExports(t *testing.T) {
	ctx := context.Background()

	t.Run("missing function exports", func(t *testing.T) {
		eng := New(ctx, nil)
		defer eng.Close(ctx)

		mod, err := eng.LoadModule(ctx, buildGuest(guestSpec{
			skip: map[string]bool{
				ExportSendMessage: true,
				ExportFreeBuffer:  true,
			},
		}))
		if err != nil {
			t.Fatalf("LoadModule failed: %v", err)
		}
		_, err = mod.Instantiate(ctx)
		if err == nil {
			t.Fatal("expected missing export error")
		}
		var missing *errors.MissingExportsError
		if !stderrors.As(err, &missing) {
			t.Fatalf("expected MissingExportsError, got %T: %v", err, err)
		}
		want := []string{ExportSendMessage, ExportFreeBuffer}
		if !reflect.DeepEqual(missing.Exports, want) {
			t.Errorf("missing exports = %v, want %v", missing.Exports, want)
		}
	})

	t.Run("empty module", func(t *testing.T) {
		eng := New(ctx, nil)
		defer eng.Close(ctx)

		// (module) with no sections at all.
		empty := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
		mod, err := eng.LoadModule(ctx, empty)
		if err != nil {
			t.Fatalf("LoadModule failed: %v", err)
		}
		_, err = mod.Instantiate(ctx)
		var missing *errors.MissingExportsError
		if !stderrors.As(err, &missing) {
			t.Fatalf("expected MissingExportsError, got %T: %v", err, err)
		}
		if len(missing.Exports) != len(requiredExports)+1 {
			t.Fatalf("missing %d exports, want %d", len(missing.Exports), len(requiredExports)+1)
		}
		if missing.Exports[0] != ExportMemory {
			t.Errorf("first missing export = %q, want %q", missing.Exports[0], ExportMemory)
		}
	})
}

func TestInstance_DeliverRoutesToRegistry(t *testing.T) {
	ctx := context.Background()

	respTag, respPayload, err := protocol.EncodeResponse(protocol.Text{Value: "ok"})
	if err != nil {
		t.Fatalf("encode response: %v", err)
	}

	eng := New(ctx, nil)
	defer eng.Close(ctx)

	mod, err := eng.LoadModule(ctx, buildGuest(guestSpec{
		respTag:     uint32(respTag),
		respPayload: respPayload,
		fragment:    []byte("hola"),
	}))
	if err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	defer inst.Close(ctx)

	feed := stream.NewFeed(4)
	handle := eng.Registry().Register(feed)
	defer eng.Registry().Deregister(handle)

	if err := inst.RegisterCallback(ctx, handle); err != nil {
		t.Fatalf("RegisterCallback failed: %v", err)
	}
	_, rptr, rlen, err := inst.SendMessage(ctx, uint8(protocol.TagTranscribe), 0, 0)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if err := inst.FreeBuffer(ctx, rptr, rlen); err != nil {
		t.Fatalf("FreeBuffer failed: %v", err)
	}

	recvCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	frag, err := feed.Recv(recvCtx)
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if frag.Text != "hola" || frag.Seq != 1 {
		t.Errorf("fragment = %+v, want {Seq: 1, Text: hola}", frag)
	}
}

func TestInstance_DeliverWithoutRegistration(t *testing.T) {
	ctx := context.Background()

	respTag, respPayload, err := protocol.EncodeResponse(protocol.Text{Value: "ok"})
	if err != nil {
		t.Fatalf("encode response: %v", err)
	}

	eng := New(ctx, nil)
	defer eng.Close(ctx)

	mod, err := eng.LoadModule(ctx, buildGuest(guestSpec{
		respTag:     uint32(respTag),
		respPayload: respPayload,
		fragment:    []byte("dropped"),
	}))
	if err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	defer inst.Close(ctx)

	// No RegisterCallback: the guest delivers with handle zero, which no
	// feed can hold.
	_, rptr, rlen, err := inst.SendMessage(ctx, uint8(protocol.TagTranscribe), 0, 0)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if err := inst.FreeBuffer(ctx, rptr, rlen); err != nil {
		t.Fatalf("FreeBuffer failed: %v", err)
	}

	if got := eng.Registry().Discarded(); got != 1 {
		t.Errorf("discarded count = %d, want 1", got)
	}
}

func TestInstance_DeliverInvalidUTF8Dropped(t *testing.T) {
	ctx := context.Background()

	respTag, respPayload, err := protocol.EncodeResponse(protocol.Text{Value: "ok"})
	if err != nil {
		t.Fatalf("encode response: %v", err)
	}

	eng := New(ctx, nil)
	defer eng.Close(ctx)

	mod, err := eng.LoadModule(ctx, buildGuest(guestSpec{
		respTag:     uint32(respTag),
		respPayload: respPayload,
		fragment:    []byte{0xff, 0xfe, 0xfd},
	}))
	if err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	defer inst.Close(ctx)

	feed := stream.NewFeed(4)
	handle := eng.Registry().Register(feed)
	defer eng.Registry().Deregister(handle)

	if err := inst.RegisterCallback(ctx, handle); err != nil {
		t.Fatalf("RegisterCallback failed: %v", err)
	}
	_, rptr, rlen, err := inst.SendMessage(ctx, uint8(protocol.TagTranscribe), 0, 0)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if err := inst.FreeBuffer(ctx, rptr, rlen); err != nil {
		t.Fatalf("FreeBuffer failed: %v", err)
	}

	// Dropped before the registry, so it does not count as discarded.
	if feed.Len() != 0 {
		t.Errorf("feed length = %d, want 0", feed.Len())
	}
	if got := eng.Registry().Discarded(); got != 0 {
		t.Errorf("discarded count = %d, want 0", got)
	}
}

func TestInstance_AllocatorAndMemory(t *testing.T) {
	ctx := context.Background()

	eng := New(ctx, nil)
	defer eng.Close(ctx)

	mod, err := eng.LoadModule(ctx, buildGuest(guestSpec{}))
	if err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	defer inst.Close(ctx)

	alloc := inst.Allocator()
	p1, err := alloc.Alloc(16)
	if err != nil {
		t.Fatalf("Alloc(16) failed: %v", err)
	}
	if p1 == 0 {
		t.Fatal("Alloc returned null")
	}
	p2, err := alloc.Alloc(8)
	if err != nil {
		t.Fatalf("Alloc(8) failed: %v", err)
	}
	if p2 != p1+16 {
		t.Errorf("second allocation = %d, want %d", p2, p1+16)
	}

	mem := inst.Memory()
	if err := mem.WriteU64(p1, 0x1122334455667788); err != nil {
		t.Fatalf("WriteU64 failed: %v", err)
	}
	got, err := mem.ReadU64(p1)
	if err != nil {
		t.Fatalf("ReadU64 failed: %v", err)
	}
	if got != 0x1122334455667788 {
		t.Errorf("ReadU64 = %#x, want 0x1122334455667788", got)
	}
	if err := mem.Write(p2, []byte("abc")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	data, err := mem.Read(p2, 3)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "abc" {
		t.Errorf("Read = %q, want %q", data, "abc")
	}

	sizer, ok := mem.(voiceruntime.MemorySizer)
	if !ok {
		t.Fatal("memory does not report its size")
	}
	_, err = mem.Read(sizer.Size(), 8)
	if err == nil {
		t.Fatal("expected out-of-bounds error")
	}
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindOutOfBounds {
		t.Errorf("expected out_of_bounds error, got %v", err)
	}

	if err := alloc.Free(p1, 16); err != nil {
		t.Errorf("Free failed: %v", err)
	}
	if err := alloc.Free(p2, 8); err != nil {
		t.Errorf("Free failed: %v", err)
	}
}

func TestInstance_CloseIdempotent(t *testing.T) {
	ctx := context.Background()

	eng := New(ctx, nil)
	defer eng.Close(ctx)

	mod, err := eng.LoadModule(ctx, buildGuest(guestSpec{}))
	if err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}

	if err := inst.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := inst.Close(ctx); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	_, _, _, err = inst.SendMessage(ctx, uint8(protocol.TagDebug), 0, 0)
	if err == nil {
		t.Fatal("expected error after Close")
	}
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindClosed {
		t.Errorf("expected closed error, got %v", err)
	}
}

func TestEngine_MemoryLimitEnforced(t *testing.T) {
	ctx := context.Background()

	eng := New(ctx, &Config{MemoryLimitPages: 1})
	defer eng.Close(ctx)

	mod, err := eng.LoadModule(ctx, buildGuest(guestSpec{memPages: 2}))
	if err == nil {
		_, err = mod.Instantiate(ctx)
	}
	if err == nil {
		t.Fatal("expected memory limit violation")
	}
}

func TestEngine_ParallelInstancesAreIsolated(t *testing.T) {
	ctx := context.Background()

	respTag, respPayload, err := protocol.EncodeResponse(protocol.Text{Value: "ok"})
	if err != nil {
		t.Fatalf("encode response: %v", err)
	}

	eng := New(ctx, nil)
	defer eng.Close(ctx)

	mod, err := eng.LoadModule(ctx, buildGuest(guestSpec{
		respTag:     uint32(respTag),
		respPayload: respPayload,
	}))
	if err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}

	inst1, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate first instance: %v", err)
	}
	defer inst1.Close(ctx)

	inst2, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate second instance: %v", err)
	}
	defer inst2.Close(ctx)

	p1, err := inst1.Allocator().Alloc(8)
	if err != nil {
		t.Fatalf("Alloc on first instance: %v", err)
	}
	p2, err := inst2.Allocator().Alloc(8)
	if err != nil {
		t.Fatalf("Alloc on second instance: %v", err)
	}
	if err := inst1.Memory().WriteU32(p1, 0xdeadbeef); err != nil {
		t.Fatalf("WriteU32 failed: %v", err)
	}
	got, err := inst2.Memory().ReadU32(p2)
	if err != nil {
		t.Fatalf("ReadU32 failed: %v", err)
	}
	if got != 0 {
		t.Errorf("second instance memory = %#x, want 0 (isolated)", got)
	}

	for i, inst := range []*Instance{inst1, inst2} {
		tag, rptr, rlen, err := inst.SendMessage(ctx, uint8(protocol.TagDebug), 0, 0)
		if err != nil {
			t.Fatalf("SendMessage on instance %d: %v", i+1, err)
		}
		if tag != uint8(protocol.TagText) {
			t.Errorf("instance %d response tag = %d, want %d", i+1, tag, protocol.TagText)
		}
		if err := inst.FreeBuffer(ctx, rptr, rlen); err != nil {
			t.Fatalf("FreeBuffer on instance %d: %v", i+1, err)
		}
	}
}
