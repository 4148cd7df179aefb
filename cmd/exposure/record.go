package main

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/exposure/pkg/entitylist"
	"github.com/Mindburn-Labs/exposure/pkg/evidence"
	"github.com/Mindburn-Labs/exposure/pkg/screening"
	"github.com/Mindburn-Labs/exposure/pkg/store"
)

// recorder exports evidence packs, signs receipts and archives assessments.
// Each step is optional.
type recorder struct {
	exporter *evidence.Exporter
	signer   *evidence.ReceiptSigner
	archive  store.AssessmentStore
	list     evidence.ListDescriptor
}

type recorded struct {
	PackRef string `json:"pack_ref,omitempty"`
	Receipt string `json:"receipt,omitempty"`
	Record  string `json:"record_id,omitempty"`
}

func (a *app) recorder(ctx context.Context, withEvidence, withArchive bool, list *entitylist.Snapshot) (*recorder, error) {
	r := &recorder{list: evidence.DescribeList(list)}
	if withEvidence {
		s, err := a.artifacts(ctx)
		if err != nil {
			return nil, err
		}
		r.exporter = evidence.NewExporter(s)
		if r.signer, err = a.signer(); err != nil {
			return nil, fmt.Errorf("receipt signer: %w", err)
		}
	}
	if withArchive {
		arc, err := a.archive()
		if err != nil {
			return nil, fmt.Errorf("archive: %w", err)
		}
		if arc == nil {
			return nil, fmt.Errorf("ARCHIVE_DRIVER is none")
		}
		r.archive = arc
	}
	return r, nil
}

func (r *recorder) record(ctx context.Context, runID string, sup screening.Supplier, a *screening.RiskAssessment) (recorded, error) {
	var out recorded
	if r.exporter != nil {
		pack, ref, err := r.exporter.Export(ctx, runID, a, r.list)
		if err != nil {
			return out, fmt.Errorf("export evidence: %w", err)
		}
		out.PackRef = ref
		if r.signer != nil {
			if out.Receipt, err = r.signer.Sign(pack); err != nil {
				return out, fmt.Errorf("sign receipt: %w", err)
			}
		}
	}
	if r.archive != nil {
		rec := store.NewRecord(runID, sup, a)
		rec.PackRef = out.PackRef
		rec.Receipt = out.Receipt
		if err := r.archive.Save(ctx, rec); err != nil {
			return out, err
		}
		out.Record = rec.ID
	}
	return out, nil
}
