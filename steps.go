package main

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	pollEvery = 250 * time.Millisecond
	ms        = time.Millisecond
)

var invalidPlayerFragments = []string{
	"invalid player id",
	"player not found",
	"invalid uid",
	"please enter a valid player id",
}

var otpFragments = []string{
	"one-time password",
	"one time password",
	"verification code",
	"enter otp",
}

var otpInputs = []Matcher{
	CSS(`input[name="otp"]`),
	CSS(`input[autocomplete="one-time-code"]`),
	CSS(`input[name*="otp" i]`),
}

// defaultSteps is the one canonical order of the purchase flow.
func defaultSteps() []step {
	return []step{
		{state: StateConnectBrowser, code: CodeBrowserConnectionFailed, run: (*run).connectBrowser},
		{state: StateNavigateShop, code: CodeNavigationFailed, screenshot: "homepage",
			delayMin: 300 * ms, delayMax: 600 * ms, run: (*run).navigateShop},
		{state: StateSelectProduct, code: CodeGameSelectionFailed, probeCaptcha: true, screenshot: "product_selected",
			delayMin: 300 * ms, delayMax: 600 * ms, run: (*run).selectProduct},
		{state: StateClickRedeem, code: CodeRedeemClickFailed, probeCaptcha: true, screenshot: "redeem_opened",
			delayMin: 300 * ms, delayMax: 600 * ms, run: (*run).clickRedeem},
		{state: StateLogin, code: CodeLoginFailed, probeCaptcha: true, screenshot: "logged_in",
			delayMin: 2000 * ms, delayMax: 2500 * ms, run: (*run).login},
		{state: StateProceedToPayment, code: CodeProceedPaymentFailed, probeCaptcha: true, screenshot: "payment_page",
			delayMin: 1000 * ms, delayMax: 1500 * ms, run: (*run).proceedToPayment},
		{state: StateSelectAmount, code: CodeDiamondSelectionFailed, probeCaptcha: true, screenshot: "amount_selected",
			delayMin: 1000 * ms, delayMax: 1500 * ms, run: (*run).selectAmount},
		{state: StateSelectPaymentChannel, code: CodeWalletSelectionFailed, probeCaptcha: true, screenshot: "channel_selected",
			delayMin: 800 * ms, delayMax: 1200 * ms, run: (*run).selectPaymentChannel},
		{state: StateSelectSubchannel, code: CodeUpPointsSelectionFailed, probeCaptcha: true, screenshot: "subchannel_selected",
			delayMin: 200 * ms, delayMax: 500 * ms, run: (*run).selectSubchannel},
		{state: StateProviderSignin, code: CodeUnipinSigninFailed, probeCaptcha: true, screenshot: "provider_signin",
			delayMin: 1500 * ms, delayMax: 2000 * ms, run: (*run).providerSignin},
		{state: StateOTPCheck, code: CodeOTPRequired, run: (*run).otpCheck},
		{state: StatePinConfirm, code: CodePinConfirmationFailed, probeCaptcha: true, screenshot: "pin_confirmed",
			delayMin: 2500 * ms, delayMax: 3500 * ms, run: (*run).pinConfirm},
		{state: StateVerifyResult, code: CodeTransactionFailed, screenshot: "final_result", run: (*run).verifyResult},
	}
}

func (r *run) click(ctx context.Context, what string, matchers ...Matcher) error {
	if !r.seq.resolver.Click(ctx, r.page, matchers...).Found() {
		return fmt.Errorf("%s: %w", what, ErrElementNotFound)
	}
	return nil
}

func (r *run) fill(ctx context.Context, what, value string, matchers ...Matcher) error {
	if !r.seq.resolver.Fill(ctx, r.page, value, matchers...).Found() {
		return fmt.Errorf("%s: %w", what, ErrElementNotFound)
	}
	return nil
}

func (r *run) waitFor(ctx context.Context, what string, matchers ...Matcher) error {
	if !r.seq.resolver.Resolve(ctx, r.page, matchers...).Found() {
		return fmt.Errorf("%s: %w", what, ErrElementNotFound)
	}
	return nil
}

// pollText reads the page text until match reports a hit or timeout passes.
func (r *run) pollText(ctx context.Context, timeout time.Duration, match func(text string) bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if text, err := r.page.Text(ctx); err == nil && match(text) {
			return true
		}
		if time.Now().After(deadline) || sleepCtx(ctx, pollEvery) != nil {
			return false
		}
	}
}

func (r *run) connectBrowser(ctx context.Context) error {
	sess, err := r.seq.connector.Connect(ctx)
	if err != nil {
		return err
	}
	r.session = sess
	r.page = sess.Page

	if r.seq.newCaptcha != nil {
		svc := r.seq.newCaptcha()
		r.captcha = svc
		sess.AddCloser("captcha", func(context.Context) error {
			svc.Close()
			return nil
		})
	}
	return nil
}

func (r *run) navigateShop(ctx context.Context) error {
	return r.page.Navigate(ctx, r.cfg().Shop.URL)
}

func (r *run) selectProduct(ctx context.Context) error {
	name := r.cfg().Shop.ProductName
	slug := strings.ToLower(strings.Join(strings.Fields(name), ""))
	return r.click(ctx, "product tile",
		Text("a, button, [role=button], div[class*=game], div[class*=card]", textPattern(name)),
		CSS(fmt.Sprintf(`a[href*="%s" i]`, slug)),
		CSS(fmt.Sprintf(`img[alt*="%s" i]`, name)),
		XPath(fmt.Sprintf(`//*[normalize-space(text())=%s]`, xpathLiteral(name))),
	)
}

func (r *run) clickRedeem(ctx context.Context) error {
	return r.click(ctx, "redeem button",
		Text("button, a, [role=button]", exactTextPattern("Redeem")),
		XPath(`//button[contains(normalize-space(.), "Redeem")]`),
		CSS(`[class*="redeem" i]`),
	)
}

func (r *run) login(ctx context.Context) error {
	if err := r.click(ctx, "login button",
		Text("button, a, [role=button]", exactTextPattern("Login")),
		Text("button, a, [role=button]", exactTextPattern("Log in")),
		XPath(`//button[contains(normalize-space(.), "Login")]`),
	); err != nil {
		return err
	}
	if err := r.delay.Between(ctx, 1000*ms, 1500*ms); err != nil {
		return err
	}

	if err := r.fill(ctx, "player id input", r.req.PlayerID,
		CSS(`input[placeholder*="player ID" i]`),
		CSS(`input[name*="player" i]`),
		CSS(`input[type="text"]`),
	); err != nil {
		return err
	}
	if err := r.delay.Between(ctx, 300*ms, 600*ms); err != nil {
		return err
	}

	if err := r.click(ctx, "login submit",
		Text(`[role="dialog"] button, .modal button, form button`, textPattern("Login")),
		CSS(`form button[type="submit"]`),
		XPath(`(//button[contains(normalize-space(.), "Login")])[last()]`),
	); err != nil {
		return err
	}
	if err := r.delay.Between(ctx, 1500*ms, 2000*ms); err != nil {
		return err
	}

	if text, err := r.page.Text(ctx); err == nil && containsFold(text, invalidPlayerFragments...) {
		return fmt.Errorf("shop rejected player id %q", r.req.PlayerID)
	}
	return nil
}

func (r *run) proceedToPayment(ctx context.Context) error {
	return r.click(ctx, "proceed to payment button",
		Text("button, a, [role=button]", textPattern("Proceed to Payment")),
		XPath(`//button[contains(normalize-space(.), "Proceed")]`),
		CSS(`button[class*="payment" i]`),
	)
}

func (r *run) selectAmount(ctx context.Context) error {
	amount := strconv.Itoa(r.req.Amount)
	return r.click(ctx, "diamond amount "+amount,
		Text("button, label, li, div, span", fmt.Sprintf(`/^\s*%s\s*(diamonds?)?\s*$/i`, amount)),
		XPath(fmt.Sprintf(`//*[normalize-space(text())=%s]`, xpathLiteral(amount))),
		XPath(fmt.Sprintf(`//*[(self::button or self::label or self::li) and contains(normalize-space(.), %s)]`, xpathLiteral(amount+" Diamond"))),
	)
}

func (r *run) selectPaymentChannel(ctx context.Context) error {
	name := r.cfg().Shop.PaymentChannel
	return r.click(ctx, "payment channel "+name,
		Text("button, label, li, div, span", exactTextPattern(name)),
		Text("button, label, li, div, span", textPattern(name)),
		XPath(fmt.Sprintf(`//*[contains(normalize-space(text()), %s)]`, xpathLiteral(name))),
	)
}

func (r *run) selectSubchannel(ctx context.Context) error {
	name := r.cfg().Shop.PaymentSubchannel
	return r.click(ctx, "payment sub-channel "+name,
		Text("button, label, li, div, span", exactTextPattern(name)),
		Text("button, label, li, div, span", textPattern(name)),
		XPath(fmt.Sprintf(`//*[contains(normalize-space(text()), %s)]`, xpathLiteral(name))),
	)
}

func (r *run) providerSignin(ctx context.Context) error {
	provider := r.cfg().Shop.ProviderName
	if err := r.waitFor(ctx, "provider sign-in form",
		Text("h1, h2, h3, div, span, p", textPattern("Sign in to "+provider)),
		CSS(`input[type="email"]`),
	); err != nil {
		return err
	}

	acct := r.cfg().Account
	if acct.Email == "" || acct.Password == "" {
		return errors.New("payment account credentials are not configured")
	}

	if err := r.fill(ctx, "email input", acct.Email,
		CSS(`input[placeholder*="Email" i]`),
		CSS(`input[type="email"]`),
		CSS(`input[name="email"]`),
	); err != nil {
		return err
	}
	if err := r.delay.Between(ctx, 300*ms, 600*ms); err != nil {
		return err
	}

	if err := r.fill(ctx, "password input", acct.Password,
		CSS(`input[placeholder*="Password" i]`),
		CSS(`input[type="password"]`),
		CSS(`input[name="password"]`),
	); err != nil {
		return err
	}
	if err := r.delay.Between(ctx, 300*ms, 600*ms); err != nil {
		return err
	}

	return r.click(ctx, "sign in button",
		Text("button", exactTextPattern("Sign in")),
		CSS(`button[type="submit"]`),
	)
}

// otpCheck stops the run when the provider asks for a one-time password.
// Nobody can read the code for us, so the order goes to an operator.
func (r *run) otpCheck(ctx context.Context) error {
	wait := time.Duration(r.cfg().Automation.OTPWaitMs) * ms
	found := r.pollText(ctx, wait, func(text string) bool {
		return containsFold(text, otpFragments...) || r.seq.resolver.Probe(ctx, r.page, otpInputs...).Found()
	})
	if !found {
		return ctx.Err()
	}

	r.capture(ctx, "otp_required")
	return &StepError{State: StateOTPCheck, Code: CodeOTPRequired, Err: errors.New("one-time password prompt detected")}
}

func (r *run) pinConfirm(ctx context.Context) error {
	if err := r.waitFor(ctx, "security pin prompt",
		Text("h1, h2, h3, div, span, p, label", textPattern("Security PIN")),
		CSS(`input[name*="pin" i]`),
	); err != nil {
		return err
	}

	pin := r.cfg().Account.PIN
	if pin == "" {
		return errors.New("security PIN is not configured")
	}

	// Some providers render one box per digit.
	boxes, err := r.page.FindAll(ctx, CSS(`input[type="password"]`))
	if err == nil && len(boxes) >= 6 && len(boxes) >= len(pin) {
		for i := 0; i < len(pin); i++ {
			if err := boxes[i].Fill(ctx, pin[i:i+1]); err != nil {
				return fmt.Errorf("failed to enter PIN digit %d: %w", i+1, err)
			}
			if err := r.delay.Between(ctx, 50*ms, 150*ms); err != nil {
				return err
			}
		}
	} else if err := r.fill(ctx, "pin input", pin,
		CSS(`input[name*="pin" i]`),
		CSS(`input[type="password"]`),
		CSS(`input[inputmode="numeric"]`),
	); err != nil {
		return err
	}

	if err := r.delay.Between(ctx, 300*ms, 600*ms); err != nil {
		return err
	}
	return r.click(ctx, "confirm button",
		Text("button", exactTextPattern("CONFIRM")),
		CSS(`button[type="submit"]`),
	)
}

// verifyResult reads the final page. Success fragments are given the longer
// window; a page that shows neither goes to manual review.
func (r *run) verifyResult(ctx context.Context) error {
	shop := r.cfg().Shop
	auto := r.cfg().Automation
	success := fragmentRegexp(shop.SuccessFragments)
	failure := fragmentRegexp(shop.FailureFragments)

	if r.waitForFragment(ctx, success, time.Duration(auto.SuccessWaitMs)*ms) != "" {
		return nil
	}

	if hit := r.waitForFragment(ctx, failure, time.Duration(auto.FailureWaitMs)*ms); hit != "" {
		if containsFold(hit, "insufficient") {
			return &StepError{State: StateVerifyResult, Code: CodeInsufficientBalance, Err: fmt.Errorf("page reports %q", hit)}
		}
		return &StepError{State: StateVerifyResult, Code: CodeTransactionFailed, Err: fmt.Errorf("page reports %q", hit)}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return &StepError{State: StateVerifyResult, Code: CodeTransactionUnverified, Err: errors.New("no success or failure indicator on the page")}
}

func (r *run) waitForFragment(ctx context.Context, re *regexp.Regexp, timeout time.Duration) string {
	if re == nil {
		return ""
	}
	var hit string
	r.pollText(ctx, timeout, func(text string) bool {
		hit = re.FindString(text)
		return hit != ""
	})
	return hit
}

// fragmentRegexp matches any fragment as whole words, so "success" does not
// hit inside "unsuccessful".
func fragmentRegexp(fragments []string) *regexp.Regexp {
	var alts []string
	for _, f := range fragments {
		words := strings.Fields(f)
		if len(words) == 0 {
			continue
		}
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		alts = append(alts, strings.Join(words, `\s+`))
	}
	if len(alts) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)
}

func containsFold(s string, substrs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(s, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
