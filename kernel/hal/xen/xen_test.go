package xen

import "testing"

func TestFeatures(t *testing.T) {
	var f Features

	if f.Has(FeatHighmemAssist) {
		t.Fatal("expected empty feature set to not include FeatHighmemAssist")
	}

	f = f.With(FeatHighmemAssist).With(FeatWritablePageTables)
	if !f.Has(FeatHighmemAssist) || !f.Has(FeatWritablePageTables) {
		t.Fatal("expected With to add features")
	}

	if f.Has(FeatHighmemAssist | FeatSupervisorModeKernel) {
		t.Fatal("expected Has to require all requested features")
	}
}

func TestMMUExtCmdString(t *testing.T) {
	specs := []struct {
		cmd MMUExtCmd
		exp string
	}{
		{MMUExtClearPage, "clear_page"},
		{MMUExtCopyPage, "copy_page"},
		{MMUExtCmd(0), "unknown"},
	}

	for specIndex, spec := range specs {
		if got := spec.cmd.String(); got != spec.exp {
			t.Errorf("[spec %d] expected %q; got %q", specIndex, spec.exp, got)
		}
	}
}
