// Package handler provides HTTP handlers for the search service.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/knowbase/internal/model"
	"github.com/kart-io/knowbase/internal/search/biz"
	"github.com/kart-io/knowbase/internal/worker/store"
)

// SuccessResponse is a standard success response.
type SuccessResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SearchHandler handles search and knowledge-base read/patch requests.
type SearchHandler struct {
	retriever *biz.Retriever
	stores    store.Factory
}

// NewSearchHandler creates a new SearchHandler.
func NewSearchHandler(retriever *biz.Retriever, stores store.Factory) *SearchHandler {
	return &SearchHandler{
		retriever: retriever,
		stores:    stores,
	}
}

// Search 执行混合检索。
func (h *SearchHandler) Search(c *gin.Context) {
	var req biz.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
		return
	}

	result, err := h.retriever.Search(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: 500, Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: result})
}

// GetDocument 返回文档元信息与摄取阶段时间线。
func (h *SearchHandler) GetDocument(c *gin.Context) {
	doc, err := h.stores.Documents().Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: 404, Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: doc})
}

// UpdateTopicLabelsRequest 分块主题标签覆盖请求。
type UpdateTopicLabelsRequest struct {
	TopicLabels []string `json:"topicLabels" binding:"required"`
}

// UpdateTopicLabels 覆盖分块的主题标签。
func (h *SearchHandler) UpdateTopicLabels(c *gin.Context) {
	var req UpdateTopicLabelsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
		return
	}

	chunkID := c.Param("id")
	if err := h.stores.Chunks().UpdateTopicLabels(c.Request.Context(), chunkID, req.TopicLabels); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: 500, Message: err.Error()})
		return
	}

	chunk, err := h.stores.Chunks().Get(c.Request.Context(), chunkID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: 404, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: chunk})
}

// UpdateMetadataRequest 分块语义元数据合并请求。空字段不覆盖。
type UpdateMetadataRequest struct {
	Title          string   `json:"title,omitempty"`
	ContextSummary string   `json:"contextSummary,omitempty"`
	SemanticTags   []string `json:"semanticTags,omitempty"`
	Topics         []string `json:"topics,omitempty"`
	Keywords       []string `json:"keywords,omitempty"`
	EnvLabels      []string `json:"envLabels,omitempty"`
	BizEntities    []string `json:"bizEntities,omitempty"`
}

// UpdateMetadata 合并写入分块的语义元数据。
func (h *SearchHandler) UpdateMetadata(c *gin.Context) {
	var req UpdateMetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
		return
	}

	meta := &model.SemanticMetadata{
		Title:          req.Title,
		ContextSummary: req.ContextSummary,
		SemanticTags:   req.SemanticTags,
		Topics:         req.Topics,
		Keywords:       req.Keywords,
		EnvLabels:      req.EnvLabels,
		BizEntities:    req.BizEntities,
	}

	chunkID := c.Param("id")
	if err := h.stores.Chunks().UpdateMetadata(c.Request.Context(), chunkID, meta); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: 500, Message: err.Error()})
		return
	}

	chunk, err := h.stores.Chunks().Get(c.Request.Context(), chunkID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: 404, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: chunk})
}

// ListVectorLogs 按文档列出向量调用日志。
func (h *SearchHandler) ListVectorLogs(c *gin.Context) {
	docID := c.Query("docId")
	if docID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: "docId 参数不能为空"})
		return
	}

	logs, err := h.stores.VectorLogs().ListByDoc(c.Request.Context(), docID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: 500, Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: logs})
}
