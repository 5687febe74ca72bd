package processor

import (
	"github.com/downfa11-org/go-consumer/pkg/types"
	"github.com/downfa11-org/go-consumer/util"
)

// Processor runs the consumer-kind specific business logic for a record after
// it has been persisted. One implementation is selected at startup from the
// configured consumer type; records never dispatch on strings per-record.
type Processor interface {
	HandleMessage(rec *types.Record) error
	HandleDelete(key string) error
}

// ForType selects the processor for a consumer type, falling back to the
// generic processor for unknown types.
func ForType(consumerType string) Processor {
	switch consumerType {
	case "price":
		return &priceProcessor{}
	case "product":
		return &productProcessor{}
	case "inventory":
		return &inventoryProcessor{}
	case "audit":
		return &auditProcessor{}
	}
	return &genericProcessor{consumerType: consumerType}
}

type genericProcessor struct {
	consumerType string
}

func (p *genericProcessor) HandleMessage(rec *types.Record) error {
	util.Debug("[%s] processed MESSAGE: key=%s", p.consumerType, rec.MsgKey)
	return nil
}

func (p *genericProcessor) HandleDelete(key string) error {
	util.Debug("[%s] processed DELETE: key=%s", p.consumerType, key)
	return nil
}

type priceProcessor struct{}

func (p *priceProcessor) HandleMessage(rec *types.Record) error {
	// e.g. update price cache, trigger alerts
	util.Debug("[price] processing price update for %s", rec.MsgKey)
	return nil
}

func (p *priceProcessor) HandleDelete(key string) error {
	util.Debug("[price] removing price entry for %s", key)
	return nil
}

type productProcessor struct{}

func (p *productProcessor) HandleMessage(rec *types.Record) error {
	// e.g. update search index
	util.Debug("[product] processing product update for %s", rec.MsgKey)
	return nil
}

func (p *productProcessor) HandleDelete(key string) error {
	util.Debug("[product] removing product entry for %s", key)
	return nil
}

type inventoryProcessor struct{}

func (p *inventoryProcessor) HandleMessage(rec *types.Record) error {
	// e.g. check stock levels, trigger reorder
	util.Debug("[inventory] processing inventory update for %s", rec.MsgKey)
	return nil
}

func (p *inventoryProcessor) HandleDelete(key string) error {
	util.Debug("[inventory] removing inventory entry for %s", key)
	return nil
}

type auditProcessor struct{}

func (p *auditProcessor) HandleMessage(rec *types.Record) error {
	// e.g. append to audit trail
	util.Debug("[audit] processing audit log for %s", rec.MsgKey)
	return nil
}

func (p *auditProcessor) HandleDelete(key string) error {
	util.Debug("[audit] recording deletion of %s", key)
	return nil
}
