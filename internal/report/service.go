package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signintech/gopdf"
	"go.uber.org/zap"

	"github.com/Hadxxx/MedicIA/internal/consultation"
)

var ErrFontUnavailable = errors.New("no usable TTF font for PDF reports")

// DefaultFontPaths covers the DejaVu locations of common distributions.
var DefaultFontPaths = []string{
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

const (
	fontFamily  = "report"
	marginLeft  = 40.0
	textWidth   = 515.0
	pageBottom  = 790.0
	lineHeight  = 14.0
	titleHeight = 18.0
)

type TelegramClient interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendDocument(ctx context.Context, chatID int64, data []byte, fileName, caption string) error
}

type Service struct {
	tg           TelegramClient
	doctorChatID int64
	fontPaths    []string
	now          func() time.Time
	log          *zap.Logger
}

// NewService builds the report service. tg may be nil when only PDF
// rendering is needed.
func NewService(tg TelegramClient, doctorChatID int64, fontPaths []string, log *zap.Logger) *Service {
	if len(fontPaths) == 0 {
		fontPaths = DefaultFontPaths
	}
	return &Service{
		tg:           tg,
		doctorChatID: doctorChatID,
		fontPaths:    fontPaths,
		now:          time.Now,
		log:          log.Named("report"),
	}
}

func (s *Service) RenderPDF(ctx context.Context, c *consultation.Consultation) ([]byte, error) {
	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})

	if err := s.loadFont(pdf); err != nil {
		return nil, err
	}
	pdf.AddPage()
	pdf.SetLeftMargin(marginLeft)
	pdf.SetY(marginLeft)

	if err := pdf.SetFont(fontFamily, "", 18); err != nil {
		return nil, err
	}
	if err := pdf.Cell(nil, "MedicIA - Relatório de anamnese"); err != nil {
		return nil, err
	}
	pdf.Br(30)

	for _, sec := range sections(c, s.now()) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.writeSection(pdf, sec); err != nil {
			return nil, fmt.Errorf("writing section %q: %w", sec.Title, err)
		}
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("writing pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Service) loadFont(pdf *gopdf.GoPdf) error {
	var lastErr error
	for _, path := range s.fontPaths {
		if err := pdf.AddTTFFont(fontFamily, path); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	s.log.Warn("no report font could be loaded", zap.Strings("paths", s.fontPaths), zap.Error(lastErr))
	return ErrFontUnavailable
}

func (s *Service) writeSection(pdf *gopdf.GoPdf, sec section) error {
	s.ensureSpace(pdf, titleHeight+lineHeight)
	if err := pdf.SetFont(fontFamily, "", 13); err != nil {
		return err
	}
	if err := pdf.Cell(nil, sec.Title); err != nil {
		return err
	}
	pdf.Br(titleHeight)

	if err := pdf.SetFont(fontFamily, "", 10); err != nil {
		return err
	}
	for _, line := range sec.Lines {
		wrapped, err := pdf.SplitText(line, textWidth)
		if err != nil {
			wrapped = []string{line}
		}
		for _, w := range wrapped {
			s.ensureSpace(pdf, lineHeight)
			if err := pdf.Cell(nil, w); err != nil {
				return err
			}
			pdf.Br(lineHeight)
		}
	}
	pdf.Br(10)
	return nil
}

func (s *Service) ensureSpace(pdf *gopdf.GoPdf, h float64) {
	if pdf.GetY()+h > pageBottom {
		pdf.AddPage()
		pdf.SetY(marginLeft)
	}
}

// SendDoctorReport delivers the report to the doctor's chat. Without a
// usable font the plain-text report is sent instead of the PDF.
func (s *Service) SendDoctorReport(ctx context.Context, c *consultation.Consultation) error {
	if s.tg == nil || s.doctorChatID == 0 {
		return errors.New("doctor report delivery is not configured")
	}
	log := s.log.With(zap.String("consultation_id", c.ID.String()))

	doc, err := s.RenderPDF(ctx, c)
	if errors.Is(err, ErrFontUnavailable) {
		log.Info("sending text report instead of pdf")
		if err := s.tg.SendMessage(ctx, s.doctorChatID, plainText(c, s.now())); err != nil {
			return fmt.Errorf("sending text report: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}

	fileName := fmt.Sprintf("relatorio_%s.pdf", c.ID.String())
	caption := fmt.Sprintf("Anamnese concluída: %s (urgência %s)", orDash(c.PatientName), label(urgencyLabels, c.UrgencyLevel))
	if err := s.tg.SendDocument(ctx, s.doctorChatID, doc, fileName, caption); err != nil {
		return fmt.Errorf("sending pdf report: %w", err)
	}
	log.Info("doctor report sent", zap.Int("bytes", len(doc)))
	return nil
}
