package billing

import (
	"fmt"

	"apflow/internal/config"
	"apflow/internal/documents"
	"apflow/internal/servicetitan"
)

// Plan converts an invoice into ERP bill lines. Invoices with too many
// lines, or any line missing from the pricebook, collapse into a single
// lump-sum line: per-item billing is only worth it when every item can
// be referenced by SKU.
func Plan(cfg config.Billing, doc *documents.Document, vendorName string) []servicetitan.BillLine {
	if len(doc.LineItems) == 0 || len(doc.LineItems) > cfg.MaxBillLines || anyOffPricebook(doc.LineItems) {
		return []servicetitan.BillLine{lumpSum(cfg, doc, vendorName)}
	}

	lines := make([]servicetitan.BillLine, 0, len(doc.LineItems))
	for _, item := range doc.LineItems {
		lines = append(lines, servicetitan.BillLine{
			SKU:         item.SKU,
			Description: item.Description,
			Quantity:    item.Quantity,
			Cost:        item.UnitPrice,
		})
	}
	return lines
}

// lumpSum builds the single synthetic line. Quantity carries the dollar
// amount and unit cost is fixed at $1.00, so quantity times cost equals
// the pre-tax total.
func lumpSum(cfg config.Billing, doc *documents.Document, vendorName string) servicetitan.BillLine {
	return servicetitan.BillLine{
		SKU:         lumpSumSKU(cfg, doc.LineItems),
		Description: fmt.Sprintf("Lump sum invoice: %s - %s", vendorName, doc.InvoiceNumber),
		Quantity:    float64(doc.TotalBeforeTax) / 100,
		Cost:        100,
	}
}

// lumpSumSKU picks the catalog SKU by majority line category. Ties and
// empty invoices fall toward plumbing.
func lumpSumSKU(cfg config.Billing, items []documents.LineItem) string {
	var plumbing, hvac, other int
	for _, item := range items {
		switch item.Category {
		case documents.CategoryPlumbing:
			plumbing++
		case documents.CategoryHVAC:
			hvac++
		default:
			other++
		}
	}
	if hvac > plumbing && hvac >= other {
		return cfg.HVACSKU
	}
	if other > plumbing && other > hvac {
		return cfg.MiscSKU
	}
	return cfg.PlumbingSKU
}

func anyOffPricebook(items []documents.LineItem) bool {
	for _, item := range items {
		if !item.InPricebook {
			return true
		}
	}
	return false
}
