package model

import (
	"testing"
)

type fakeDevice struct{ name string }

func (f fakeDevice) Name() string { return f.name }

func TestInvocationContext_DefaultDeviceIsFirstAllocated(t *testing.T) {
	ctx := NewInvocationContext(ConfigurationDescriptor{ModuleName: "mod1"})

	if _, ok := ctx.DefaultDeviceName(); ok {
		t.Fatalf("expected no default device before any allocation")
	}

	if err := ctx.AllocateDevice("device1", fakeDevice{"device1"}); err != nil {
		t.Fatalf("AllocateDevice: %v", err)
	}
	if err := ctx.AllocateDevice("device2", fakeDevice{"device2"}); err != nil {
		t.Fatalf("AllocateDevice: %v", err)
	}

	name, ok := ctx.DefaultDeviceName()
	if !ok || name != "device1" {
		t.Fatalf("expected default device %q, got %q (ok=%v)", "device1", name, ok)
	}

	if got := ctx.DeviceNames(); len(got) != 2 || got[0] != "device1" || got[1] != "device2" {
		t.Fatalf("unexpected device ordering: %v", got)
	}
}

func TestInvocationContext_AllocateDeviceRejectsDuplicate(t *testing.T) {
	ctx := NewInvocationContext(ConfigurationDescriptor{})
	if err := ctx.AllocateDevice("device1", fakeDevice{"device1"}); err != nil {
		t.Fatalf("AllocateDevice: %v", err)
	}
	if err := ctx.AllocateDevice("device1", fakeDevice{"device1"}); err == nil {
		t.Fatal("expected error allocating duplicate device name")
	}
}

func TestInvocationContext_SetBuildInfoRequiresAllocatedDevice(t *testing.T) {
	ctx := NewInvocationContext(ConfigurationDescriptor{})
	bi := NewBuildInfo("B1", "main", "userdebug", "tag")

	if err := ctx.SetBuildInfo("device1", bi); err == nil {
		t.Fatal("expected error attaching build info to unallocated device")
	}

	if err := ctx.AllocateDevice("device1", fakeDevice{"device1"}); err != nil {
		t.Fatalf("AllocateDevice: %v", err)
	}
	if err := ctx.SetBuildInfo("device1", bi); err != nil {
		t.Fatalf("SetBuildInfo: %v", err)
	}

	got, ok := ctx.BuildInfo("device1")
	if !ok || got != bi {
		t.Fatalf("BuildInfo mismatch: got=%v ok=%v", got, ok)
	}
}

func TestInvocationContext_AttributesAreAppendOnly(t *testing.T) {
	ctx := NewInvocationContext(ConfigurationDescriptor{})
	ctx.PutAttribute("TEST_TYPE_COUNT", "5")
	ctx.PutAttribute("TEST_TYPE_COUNT", "3")

	got := ctx.Attributes("TEST_TYPE_COUNT")
	if len(got) != 2 || got[0] != "5" || got[1] != "3" {
		t.Fatalf("expected append-only multimap values [5 3], got %v", got)
	}
}

func TestInvocationContext_NewShardContextSharesDevicesFreshState(t *testing.T) {
	parent := NewInvocationContext(ConfigurationDescriptor{ModuleName: "mod1", ShardIndex: 0})
	if err := parent.AllocateDevice("device1", fakeDevice{"device1"}); err != nil {
		t.Fatalf("AllocateDevice: %v", err)
	}
	parent.PutAttribute("k", "v")

	child := parent.NewShardContext(2, 4)

	if got := child.Descriptor().ShardIndex; got != 2 {
		t.Fatalf("expected shard index 2, got %d", got)
	}
	if _, ok := child.Device("device1"); !ok {
		t.Fatal("expected shard context to inherit allocated devices")
	}
	if got := child.Attributes("k"); len(got) != 0 {
		t.Fatalf("expected fresh attribute state in shard context, got %v", got)
	}
}

func TestBuildInfo_FreezeBlocksMutationExceptAttributes(t *testing.T) {
	bi := NewBuildInfo("B1", "main", "userdebug", "tag")
	if err := bi.AddProperty("foo"); err != nil {
		t.Fatalf("AddProperty before freeze: %v", err)
	}
	bi.Freeze()

	if err := bi.AddProperty("bar"); err == nil {
		t.Fatal("expected error adding property after freeze")
	}
	if err := bi.SetVersionedFile("img", nil); err == nil {
		t.Fatal("expected error setting versioned file after freeze")
	}

	bi.PutAttribute("merged_from_shard", "0")
	if v, ok := bi.Attribute("merged_from_shard"); !ok || v != "0" {
		t.Fatalf("expected attribute mutation to succeed after freeze, got %q (ok=%v)", v, ok)
	}
}

func TestBuildInfo_CloneIsIndependent(t *testing.T) {
	bi := NewBuildInfo("B1", "main", "userdebug", "tag")
	bi.PutAttribute("k", "v")

	clone := bi.Clone()
	clone.PutAttribute("k", "changed")

	if v, _ := bi.Attribute("k"); v != "v" {
		t.Fatalf("expected original build info unaffected by clone mutation, got %q", v)
	}
	if v, _ := clone.Attribute("k"); v != "changed" {
		t.Fatalf("expected clone mutation to stick, got %q", v)
	}
}
