package tasks

import (
	"context"
	"log/slog"
)

type TranslateItemTask struct {
	Task
	ItemID     int64
	translator ItemTranslator
}

func NewTranslateItemTask(itemID int64, translator ItemTranslator) *TranslateItemTask {
	return &TranslateItemTask{
		Task:       NewTask(TaskTypeTranslateItem, ""),
		ItemID:     itemID,
		translator: translator,
	}
}

func (t *TranslateItemTask) Execute(ctx context.Context) error {
	if err := t.translator.Translate(ctx, t.ItemID); err != nil {
		return err
	}

	slog.Debug("Task completed",
		"type", string(t.Type),
		"item_id", t.ItemID,
		"duration", t.GetDuration())

	return nil
}
