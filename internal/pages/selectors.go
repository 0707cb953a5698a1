package pages

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/contrib-graph-crawler/internal/browser"
)

const addressLabelRunes = 4

var (
	webVersionButton = browser.Locator{Selector: `button, a, [role="button"]`, Text: "ウェブ版を引き続き使用"}

	// Contributor review list.
	contributorName   = browser.Locator{Selector: `h1[role="button"]`}
	contributorAvatar = browser.Locator{Selector: `div[aria-label="プロフィール写真"] img`}
	reviewPanel       = browser.Locator{Selector: `[role="tabpanel"]`}
	contributorItems  = browser.Locator{Selector: `[data-review-id][tabindex]`}
	placeDetailsBtn   = browser.Locator{Selector: `button`, Text: "場所の詳細"}
	backButton        = browser.Locator{Selector: `[aria-label="前に戻ります"]`}

	// Place details pane.
	placeHeading     = browser.Locator{Selector: `div[role="main"] h1`}
	placeMain        = browser.Locator{Selector: `div[role="main"][aria-label]`}
	placeAddress     = browser.Locator{Selector: `[data-item-id="address"]`}
	placeHeroImage   = browser.Locator{Selector: `button[aria-label^="写真: "] img`}
	overviewTab      = browser.Locator{Selector: `button[role="tab"][aria-label*="概要"]`}
	reviewTab        = browser.Locator{Selector: `button[role="tab"][aria-label*="クチコミ"]`}
	reviewTabActive  = browser.Locator{Selector: `button[role="tab"][aria-label*="クチコミ"][aria-selected="true"]`}
	placeReviewItems = browser.Locator{Selector: `div[data-review-id][aria-label]`}

	// Within a place review item.
	reviewerButton = browser.Locator{Selector: `button[data-href*="/contrib/"]`}
	reviewerAvatar = browser.Locator{Selector: `button[data-href*="/contrib/"] img`}
	reviewActions  = browser.Locator{Selector: `button[aria-label$="クチコミへのアクション"]`}

	// Share flow.
	actionMenu  = browser.Locator{Selector: `#action-menu`}
	shareOption = browser.Locator{Selector: `div[role="menuitemradio"]`, Text: "クチコミを共有"}
	shareInput  = browser.Locator{Selector: `div[role="dialog"] input[value^="https://"]`}
)

// cssString quotes s for use inside a CSS attribute selector.
func cssString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

func placeImageFor(name string) browser.Locator {
	return browser.Locator{Selector: fmt.Sprintf(`img[alt=%s]`, cssString("写真: "+name))}
}

func contributorItemByID(id string) browser.Locator {
	return browser.Locator{Selector: fmt.Sprintf(`[data-review-id=%s]`, cssString(id))}
}

func placeReviewItemByID(id string) browser.Locator {
	return browser.Locator{Selector: fmt.Sprintf(`div[data-review-id=%s][aria-label]`, cssString(id))}
}
