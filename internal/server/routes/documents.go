package routes

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/quill/internal/queue"
	"github.com/OFFIS-RIT/quill/pkg/common"
	"github.com/OFFIS-RIT/quill/pkg/indexer"
	"github.com/OFFIS-RIT/quill/pkg/logger"
)

type queuedResponse struct {
	Message string `json:"message"`
	Queue   string `json:"queue"`
}

// PostDocumentHandler indexes one document. With "async" set the job is
// handed to the worker and 202 is returned.
func PostDocumentHandler(c echo.Context) error {
	type postDocumentBody struct {
		DocID    string         `json:"doc_id" validate:"required"`
		Text     string         `json:"text"`
		Metadata map[string]any `json:"metadata"`
		Async    bool           `json:"async"`
	}

	data := new(postDocumentBody)
	if err := bindBody(c, data); err != nil {
		return badRequest(c, err)
	}
	collection := param(c, "collection")
	doc := common.Document{DocID: data.DocID, Text: data.Text, Metadata: data.Metadata}

	if data.Async {
		return enqueue(c, queue.IndexQueue, queue.IndexMessage{Collection: collection, Document: doc})
	}

	idx, err := collectionIndexer(c)
	if err != nil {
		return failure(c, err)
	}
	ctx := c.Request().Context()
	res, err := idx.IndexDocument(ctx, doc)
	if err != nil {
		return failure(c, err)
	}
	if err := idx.Persist(ctx); err != nil {
		res.Warnings = append(res.Warnings, "snapshot failed: "+err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

// PostFolderHandler indexes a batch of documents and consolidates the
// graph afterwards.
func PostFolderHandler(c echo.Context) error {
	type postFolderBody struct {
		Documents []common.Document     `json:"documents" validate:"required,min=1"`
		Options   indexer.FolderOptions `json:"options"`
		Async     bool                  `json:"async"`
	}

	data := new(postFolderBody)
	if err := bindBody(c, data); err != nil {
		return badRequest(c, err)
	}
	collection := param(c, "collection")

	if data.Async {
		return enqueue(c, queue.FolderQueue, queue.FolderMessage{Collection: collection, Documents: data.Documents, Options: data.Options})
	}

	idx, err := collectionIndexer(c)
	if err != nil {
		return failure(c, err)
	}
	ctx := c.Request().Context()
	res, err := idx.IndexFolder(ctx, data.Documents, data.Options)
	if err != nil {
		return failure(c, err)
	}
	if err := idx.Persist(ctx); err != nil {
		res.Warnings = append(res.Warnings, "snapshot failed: "+err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func enqueue(c echo.Context, queueName string, msg any) error {
	pub := appOf(c).Queue
	if pub == nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Message: "Asynchronous indexing is not configured"})
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return failure(c, err)
	}
	if err := queue.PublishFIFO(c.Request().Context(), pub, queueName, body); err != nil {
		logger.Error("[Server] Failed to publish job", "queue", queueName, "err", err)
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Message: "Failed to queue job"})
	}
	return c.JSON(http.StatusAccepted, queuedResponse{Message: "Queued", Queue: queueName})
}
