package deviceflow

import (
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/oauth2"
)

// Presenter shows the user code to the operator. It only has side effects
// and never blocks polling.
type Presenter struct {
	out         io.Writer
	openBrowser func(string) error
	launch      bool
	quiet       bool
	spin        *spinner.Spinner
}

// PresenterOption customizes a Presenter.
type PresenterOption func(*Presenter)

// WithBrowser enables or disables launching a browser at the verification URL.
func WithBrowser(enabled bool) PresenterOption {
	return func(p *Presenter) {
		p.launch = enabled
	}
}

// WithBrowserOpener replaces OpenBrowser.
func WithBrowserOpener(fn func(string) error) PresenterOption {
	return func(p *Presenter) {
		p.openBrowser = fn
	}
}

// WithQuiet suppresses the progress spinner and hints. The user code and
// verification URL are always shown.
func WithQuiet(quiet bool) PresenterOption {
	return func(p *Presenter) {
		p.quiet = quiet
	}
}

// NewPresenter creates a presenter writing to out.
func NewPresenter(out io.Writer, opts ...PresenterOption) *Presenter {
	p := &Presenter{
		out:         out,
		openBrowser: OpenBrowser,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Show prints the verification URL and the user code, then opens the browser
// if enabled. A browser failure is reported as a hint only.
func (p *Presenter) Show(resp *oauth2.DeviceAuthResponse) {
	fmt.Fprintln(p.out)
	fmt.Fprintf(p.out, "To authorize this device, visit:\n  %s\n\n", text.Bold.Sprint(resp.VerificationURI))
	fmt.Fprintf(p.out, "and enter the code:\n  %s\n\n", text.Colors{text.Bold, text.FgYellow}.Sprint(resp.UserCode))

	if !resp.Expiry.IsZero() && !p.quiet {
		fmt.Fprintf(p.out, "The code expires at %s.\n", resp.Expiry.Local().Format(time.Kitchen))
	}

	if !p.launch {
		return
	}

	target := resp.VerificationURIComplete
	if target == "" {
		target = resp.VerificationURI
	}
	if err := p.openBrowser(target); err != nil {
		if !p.quiet {
			fmt.Fprintf(p.out, "%s could not open a browser (%v), open the URL above manually.\n",
				text.FgYellow.Sprint("Note:"), err)
		}
		return
	}
	if !p.quiet {
		fmt.Fprintln(p.out, "Opened the verification page in your browser.")
	}
}

// StartWaiting shows a spinner while polling runs. It is a no-op when the
// output is not a terminal.
func (p *Presenter) StartWaiting() {
	if p.quiet || p.spin != nil {
		return
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(p.out))
	s.Suffix = " Waiting for approval..."
	s.Start()
	p.spin = s
}

// StopWaiting stops the spinner started by StartWaiting.
func (p *Presenter) StopWaiting() {
	if p.spin == nil {
		return
	}
	p.spin.Stop()
	p.spin = nil
}
