package queue

import (
	"github.com/OFFIS-RIT/quill/pkg/common"
	"github.com/OFFIS-RIT/quill/pkg/indexer"
)

// IndexMessage asks the worker to (re-)index one document.
type IndexMessage struct {
	Collection string          `json:"collection" validate:"required"`
	Document   common.Document `json:"document"`
}

// FolderMessage asks the worker to index a batch of documents and then
// consolidate the collection graph.
type FolderMessage struct {
	Collection string                `json:"collection" validate:"required"`
	Documents  []common.Document     `json:"documents"`
	Options    indexer.FolderOptions `json:"options"`
}
