package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const (
	// pageUserAgent presents as a consumer browser; many sites serve
	// degraded or blocked content to obvious automation.
	pageUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// pageSettle is extra wait time after load for dynamic content.
	pageSettle  = 2 * time.Second
	pageTimeout = 60 * time.Second

	// maxPageContent caps what one fetch returns to the model.
	maxPageContent = 200_000

	pageTruncationNote = "\n[Content truncated]"
)

// stealthScript hides the automation markers headless Chrome exposes.
const stealthScript = `Object.defineProperty(navigator, 'webdriver', {get: () => false});
Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3, 4, 5]});
window.chrome = { runtime: {} };`

// textExtractScript pulls readable text from semantic elements and
// collapses intra-element whitespace.
const textExtractScript = `(() => {
	const selectors = 'h1, h2, h3, h4, h5, h6, p, li, td, th, figcaption';
	return Array.from(document.querySelectorAll(selectors))
		.map(el => el.textContent)
		.filter(text => text && text.trim())
		.map(text => text.trim().replace(/\s+/g, ' '));
})()`

type pageParams struct {
	URL string `json:"url" jsonschema:"description=The URL to browse to"`
}

// PageContentTool fetches a URL with a headless browser, rendering
// JavaScript before extraction. textOnly selects between the raw HTML and
// the cleaned text rendition.
type PageContentTool struct {
	textOnly bool
}

// NewPageHTMLTool returns the get_page_html_content tool.
func NewPageHTMLTool() *PageContentTool { return &PageContentTool{} }

// NewPageTextTool returns the get_page_text_content tool.
func NewPageTextTool() *PageContentTool { return &PageContentTool{textOnly: true} }

func (t *PageContentTool) Name() string {
	if t.textOnly {
		return "get_page_text_content"
	}
	return "get_page_html_content"
}

func (t *PageContentTool) Description() string {
	if t.textOnly {
		return "Browse to a URL with a headless browser to render JavaScript and extract clean text content. Use this for any URL that you want to read for research purposes. Extracts text from semantic elements like headings, paragraphs, lists and tables."
	}
	return "Browse to a URL with a headless browser to render JavaScript and return the full HTML page content. Use this for any URL that you want to scrape or when you need to understand the HTML format of the page."
}

func (t *PageContentTool) Schema() json.RawMessage {
	return schemaOf(pageParams{})
}

func (t *PageContentTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var p pageParams
	if err := json.Unmarshal(params, &p); err != nil {
		return Errorf("Invalid parameters: %v", err), nil
	}
	if err := validatePageURL(p.URL); err != nil {
		return Errorf("Invalid URL: %v", err), nil
	}

	var content string
	var err error
	if t.textOnly {
		content, err = fetchPageText(ctx, p.URL)
	} else {
		content, err = fetchPageHTML(ctx, p.URL)
	}
	if err != nil {
		return Errorf("Failed to get page content for %s: %v", p.URL, err), nil
	}

	if len(content) > maxPageContent {
		content = content[:maxPageContent] + pageTruncationNote
	}
	return &Result{Content: content}, nil
}

func validatePageURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

func fetchPageHTML(ctx context.Context, rawURL string) (string, error) {
	var content string
	err := runBrowser(ctx, rawURL, chromedp.OuterHTML("html", &content, chromedp.ByQuery))
	return content, err
}

func fetchPageText(ctx context.Context, rawURL string) (string, error) {
	var lines []string
	if err := runBrowser(ctx, rawURL, chromedp.Evaluate(textExtractScript, &lines)); err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

// runBrowser navigates a fresh headless browser to the URL, lets dynamic
// content settle, then runs the extraction action.
func runBrowser(ctx context.Context, rawURL string, extract chromedp.Action) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(pageUserAgent),
		chromedp.WindowSize(1920, 1080),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	runCtx, runCancel := context.WithTimeout(taskCtx, pageTimeout)
	defer runCancel()

	return chromedp.Run(runCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
		chromedp.Navigate(rawURL),
		chromedp.Sleep(pageSettle),
		extract,
	)
}
