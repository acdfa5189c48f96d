package parsing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPOCRClient 调用外部 OCR 服务的客户端。
// 服务约定：POST 原始字节，返回 {"pages":[{"page_no":1,"text":"..."}]}。
type HTTPOCRClient struct {
	endpoint string
	client   *http.Client
}

// NewHTTPOCRClient 创建 OCR 客户端。timeout 为 0 时用 60s。
func NewHTTPOCRClient(endpoint string, timeout time.Duration) *HTTPOCRClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPOCRClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type ocrPage struct {
	PageNo int    `json:"page_no"`
	Text   string `json:"text"`
}

type ocrResponse struct {
	Pages []ocrPage `json:"pages"`
}

// Extract implements OCRClient.
func (c *HTTPOCRClient) Extract(ctx context.Context, req OCRRequest) ([]Element, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(req.Data))
	if err != nil {
		return nil, fmt.Errorf("构造 OCR 请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	if req.Language != "" {
		httpReq.Header.Set("X-OCR-Language", req.Language)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("OCR 请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取 OCR 响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OCR 服务返回 %d: %s", resp.StatusCode, string(body))
	}

	var parsed ocrResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("解析 OCR 响应失败: %w", err)
	}

	elements := make([]Element, 0, len(parsed.Pages))
	for _, page := range parsed.Pages {
		if page.Text == "" {
			continue
		}
		elements = append(elements, Element{
			Type:   ElementTypeText,
			Text:   page.Text,
			PageNo: page.PageNo,
		})
	}
	return elements, nil
}

var _ OCRClient = (*HTTPOCRClient)(nil)
