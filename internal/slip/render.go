package slip

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Renderer turns a populated slip document into PDF bytes.
type Renderer interface {
	RenderPDF(ctx context.Context, html string) ([]byte, error)
}

// ChromeRenderer prints documents through a headless Chrome. The browser is
// started lazily and shared by every render until Close.
type ChromeRenderer struct {
	Bin string

	mu      sync.Mutex
	browser *rod.Browser
}

func NewChromeRenderer(bin string) *ChromeRenderer {
	return &ChromeRenderer{Bin: bin}
}

func (c *ChromeRenderer) connect() (*rod.Browser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser != nil {
		return c.browser, nil
	}
	l := launcher.New().Headless(true).Leakless(false)
	if c.Bin != "" {
		l = l.Bin(c.Bin)
	}
	u, err := l.Launch()
	if err != nil {
		return nil, err
	}
	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, err
	}
	c.browser = browser
	return browser, nil
}

func (c *ChromeRenderer) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	browser, err := c.connect()
	if err != nil {
		return nil, err
	}
	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, err
	}
	defer page.Close()

	if err := page.SetDocumentContent(html); err != nil {
		return nil, err
	}
	if err := page.WaitLoad(); err != nil {
		return nil, err
	}
	stream, err := page.PDF(&proto.PagePrintToPDF{
		PrintBackground:   true,
		PreferCSSPageSize: true,
	})
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(stream)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New("renderer produced an empty document")
	}
	return raw, nil
}

func (c *ChromeRenderer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser == nil {
		return nil
	}
	err := c.browser.Close()
	c.browser = nil
	return err
}
