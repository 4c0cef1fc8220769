// Package ingest wires the extraction engine to its external ports: the
// message source, the blob archive, and the fact store.
package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-ingest/internal/blob"
	"github.com/sells-group/portfolio-ingest/internal/extract"
	"github.com/sells-group/portfolio-ingest/internal/model"
	"github.com/sells-group/portfolio-ingest/internal/resolve"
	"github.com/sells-group/portfolio-ingest/internal/source"
	"github.com/sells-group/portfolio-ingest/internal/store"
)

// Pipeline processes one inbound message at a time: fetch, archive,
// resolve, extract, persist. Messages are independent units of work;
// scaling out means more workers, not parallelism inside one unit.
type Pipeline struct {
	src   source.MessageSource
	sink  blob.Sink
	store store.Store
	ext   *extract.Extractor
}

// NewPipeline assembles a pipeline from its ports.
func NewPipeline(src source.MessageSource, sink blob.Sink, st store.Store, ext *extract.Extractor) *Pipeline {
	return &Pipeline{src: src, sink: sink, store: st, ext: ext}
}

// Directory builds a batch-scoped company directory snapshot from the
// store. Callers hold it for the length of one batch and discard it.
func (p *Pipeline) Directory(ctx context.Context) (*resolve.Directory, error) {
	companies, err := p.store.Companies(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: load company directory")
	}
	dir := resolve.NewDirectory(companies)
	zap.L().Info("ingest: company directory loaded", zap.Int("entries", dir.Len()))
	return dir, nil
}

// ProcessMessage runs the full unit of work for one message id. Archive
// happens before extraction so the raw artifact survives extraction
// bugs. A message that resolves to no company is archived and then
// skipped by the store; any store or fetch failure propagates to the
// caller, which owns retry and dead-lettering.
func (p *Pipeline) ProcessMessage(ctx context.Context, dir *resolve.Directory, messageID string) (*store.PersistResult, error) {
	msg, err := p.src.Fetch(ctx, messageID)
	if err != nil {
		return nil, err
	}

	companyID, matched := dir.MatchMessage(msg.From, msg.Subject, msg.Body)

	rawURL, err := p.sink.Store(ctx, companyID, []byte(msg.FullText()), msg.ID+".eml", "email")
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: archive message %s", messageID)
	}

	env := p.ext.Extract(msg)
	env.CompanyID = companyID
	env.Source.StorageURL = rawURL
	if !matched {
		env.Anomalies = append(env.Anomalies, "no company matched sender or text")
	}

	for _, att := range msg.Attachments {
		docType := docTypeForAttachment(att)
		url, err := p.sink.Store(ctx, companyID, att.Content, att.Name, docType)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: archive attachment %s", att.Name)
		}
		env.Facts.Documents = append(env.Facts.Documents, model.Document{
			DocID:      att.ID,
			StorageURL: url,
			Title:      att.Name,
			DocType:    docType,
		})
	}

	res, err := p.store.PersistEnvelope(ctx, env)
	if err != nil {
		return nil, err
	}

	zap.L().Info("ingest: message processed",
		zap.String("message_id", messageID),
		zap.String("company_id", companyID),
		zap.String("status", string(res.Status)),
		zap.Int("records_created", res.Created()),
	)
	return res, nil
}

// DeadLetter records a fatally failed message for later replay.
func (p *Pipeline) DeadLetter(ctx context.Context, messageID string, cause error) {
	dl := store.DeadLetter{
		SourceType: string(model.SourceEmail),
		SourceID:   messageID,
		Error:      fmt.Sprintf("%v", cause),
	}
	if err := p.store.RecordDeadLetter(ctx, dl); err != nil {
		zap.L().Error("ingest: failed to record dead letter",
			zap.String("message_id", messageID),
			zap.Error(err),
		)
	}
}

// docTypeForAttachment buckets an attachment by extension and declared
// content type for archive-folder routing.
func docTypeForAttachment(att model.Attachment) string {
	lower := strings.ToLower(att.Name)
	if strings.Contains(lower, "update") {
		return "update"
	}
	ext := filepath.Ext(lower)
	switch ext {
	case ".xlsx", ".xls", ".csv":
		return "financial"
	case ".docx", ".doc":
		return "legal"
	case ".pdf":
		return "update"
	}
	if strings.HasPrefix(att.ContentType, "application/vnd.ms-excel") ||
		strings.HasPrefix(att.ContentType, "text/csv") {
		return "financial"
	}
	return "document"
}
