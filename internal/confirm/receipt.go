package confirm

import (
	"bytes"
	"fmt"
	"time"

	"github.com/phpdave11/gofpdf"
)

// ReceiptPDF renders the comprobante for a confirmed purchase.
func ReceiptPDF(v View, issued time.Time) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle("Comprobante", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, tr("Carrera Margarita Tejada"))
	pdf.Ln(10)
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 8, "COMPROBANTE")
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 6, tr("Fecha: "+issued.Format("02/01/2006 15:04")))
	pdf.Ln(6)
	if v.TransactionID != "" {
		pdf.Cell(0, 6, tr("Transacción: "+v.TransactionID))
		pdf.Ln(6)
	}
	status := "Pagado"
	if v.Pending {
		status = "Pendiente de Pago"
	}
	pdf.Cell(0, 6, tr("Estado: "+status))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 7, tr("Detalle de la Compra"))
	pdf.Ln(8)

	for _, l := range v.Lines {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(140, 6, tr(fmt.Sprintf("Participante %d: %s", l.ID, l.Name)), "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, Money(l.Price), "", 1, "R", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		detail := "Distancia: " + string(l.Distance)
		if !l.BirthDate.IsZero() {
			detail += "   Nacimiento: " + l.BirthDate.Format("02/01/2006")
		}
		if l.IPU != "" {
			detail += "   IPU: " + l.IPU
		}
		pdf.Cell(0, 5, tr(detail))
		pdf.Ln(7)
	}

	pdf.Ln(3)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(140, 8, "Total", "T", 0, "L", false, 0, "")
	pdf.CellFormat(0, 8, Money(v.Total), "T", 1, "R", false, 0, "")

	if v.Pending && v.PaymentURL != "" {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "I", 9)
		pdf.MultiCell(0, 5, tr("Completa tu pago en: "+v.PaymentURL), "", "", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	return buf.Bytes(), nil
}
