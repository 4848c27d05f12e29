package testsupport

import (
	"context"
	"fmt"
	"time"

	"apflow/internal/services"
	"apflow/internal/servicetitan"
)

// ERPStub is an in-memory servicetitan.Client. Tests populate the maps
// and inspect the recorded calls.
type ERPStub struct {
	POs       map[string]*servicetitan.PurchaseOrder
	Vendors   map[string]*servicetitan.Vendor
	Jobs      []servicetitan.Job
	Techs     map[int64]*servicetitan.Technician
	Materials map[string]*servicetitan.Material

	ReceiveErr    error
	FinalizeErr   error
	ReceiptBillID int64 // bill auto-created by a PO receipt; 0 means none

	ReceivedPOs    []int64
	CreatedBills   []servicetitan.CreateBillRequest
	FinalizedBills []int64
	Adjustments    map[int64]int64

	nextBillID int64
}

// NewERPStub returns an empty stub with all maps initialized.
func NewERPStub() *ERPStub {
	return &ERPStub{
		POs:         make(map[string]*servicetitan.PurchaseOrder),
		Vendors:     make(map[string]*servicetitan.Vendor),
		Techs:       make(map[int64]*servicetitan.Technician),
		Materials:   make(map[string]*servicetitan.Material),
		Adjustments: make(map[int64]int64),
		nextBillID:  9000,
	}
}

var _ servicetitan.Client = (*ERPStub)(nil)

func (s *ERPStub) FindPO(_ context.Context, coreNumber string) (*servicetitan.PurchaseOrder, error) {
	if po, ok := s.POs[coreNumber]; ok {
		return po, nil
	}
	return nil, services.Wrap(services.ErrNotFound, "servicetitan", "find_po",
		fmt.Sprintf("no purchase order %s", coreNumber), nil)
}

func (s *ERPStub) FindVendorByName(_ context.Context, name string) (*servicetitan.Vendor, error) {
	if vendor, ok := s.Vendors[name]; ok {
		return vendor, nil
	}
	return nil, services.Wrap(services.ErrNotFound, "servicetitan", "find_vendor",
		fmt.Sprintf("no vendor named %q", name), nil)
}

func (s *ERPStub) FindJobs(_ context.Context, from, to time.Time) ([]servicetitan.Job, error) {
	var out []servicetitan.Job
	for _, job := range s.Jobs {
		if job.CompletedOn.Before(from) || job.CompletedOn.After(to) {
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

func (s *ERPStub) TechniciansByJob(_ context.Context, jobID int64) ([]servicetitan.Technician, error) {
	if tech, ok := s.Techs[jobID]; ok {
		return []servicetitan.Technician{*tech}, nil
	}
	return nil, nil
}

func (s *ERPStub) ReceivePO(_ context.Context, poID int64, _ string, _ []byte, _ []servicetitan.ReceiptLine) (int64, error) {
	if s.ReceiveErr != nil {
		return 0, s.ReceiveErr
	}
	s.ReceivedPOs = append(s.ReceivedPOs, poID)
	return s.ReceiptBillID, nil
}

func (s *ERPStub) CreateBill(_ context.Context, req servicetitan.CreateBillRequest) (*servicetitan.Bill, error) {
	s.CreatedBills = append(s.CreatedBills, req)
	s.nextBillID++
	return &servicetitan.Bill{ID: s.nextBillID, Status: "Draft"}, nil
}

func (s *ERPStub) FinalizeBill(_ context.Context, billID int64) error {
	if s.FinalizeErr != nil {
		return s.FinalizeErr
	}
	s.FinalizedBills = append(s.FinalizedBills, billID)
	return nil
}

func (s *ERPStub) AdjustBillAmount(_ context.Context, billID int64, newTotal int64, _ string) error {
	s.Adjustments[billID] = newTotal
	return nil
}

func (s *ERPStub) FindMaterial(_ context.Context, sku string) (*servicetitan.Material, error) {
	if material, ok := s.Materials[sku]; ok {
		return material, nil
	}
	return nil, services.Wrap(services.ErrNotFound, "servicetitan", "find_material",
		fmt.Sprintf("no pricebook material %s", sku), nil)
}
