package browser

import "fmt"

// Selectors of the remote create page
const (
	promptBox         = "#prompt"
	fileInput         = "input[type=file]"
	deleteUploadXPath = "/html/body/main/div/div[2]/div[1]/form/div[1]/div[1]/div/div[2]/button"
	uploadOverlay     = "div.rounded-lg.absolute.inset-0.size-full.flex.flex-col.items-center.justify-center"
)

// The feed is the list of <article> elements, newest first. A status badge
// mentioning queue, progress, render or generat marks an unfinished entry.
const articleHelpers = `
const busyBadge = (a) => {
	const badge = a.querySelector("[data-sentry-component='StatusBadge']");
	const txt = badge ? (badge.textContent || "").trim().toLowerCase() : "";
	return txt !== "" && /queue|progress|render|generat/.test(txt);
};
const renderOverlay = (a) => {
	const el = a.querySelector("` + uploadOverlay + `");
	return el !== null && el.offsetParent !== null;
};
const articleAt = (pos) => document.querySelectorAll("article")[pos - 1] || null;
const downloadButton = (a) => {
	const icon = a.querySelector("button.button--fixed svg[viewBox='0 0 24 24']");
	return icon ? icon.closest("button") : null;
};
`

func countActiveScript(limit int) string {
	return fmt.Sprintf(`(() => {%s
	const articles = Array.from(document.querySelectorAll("article")).slice(0, %d);
	let n = 0;
	for (const a of articles) {
		if (busyBadge(a) || renderOverlay(a)) n++;
	}
	return n;
})()`, articleHelpers, limit)
}

// articleCenterScript scrolls the article into view and returns its centre
func articleCenterScript(position int) string {
	return fmt.Sprintf(`(() => {%s
	const a = articleAt(%d);
	if (!a) return {found: false, x: 0, y: 0};
	a.scrollIntoView({block: "center"});
	const r = a.getBoundingClientRect();
	return {found: true, x: r.left + r.width / 2, y: r.top + r.height / 2};
})()`, articleHelpers, position)
}

func articleStateScript(position int) string {
	return fmt.Sprintf(`(() => {%s
	const a = articleAt(%d);
	if (!a) return {exists: false, busy: false, downloadable: false};
	return {exists: true, busy: busyBadge(a), downloadable: downloadButton(a) !== null};
})()`, articleHelpers, position)
}

func promptAtScript(position int) string {
	return fmt.Sprintf(`(() => {%s
	const a = articleAt(%d);
	const p = a ? a.querySelector("[data-sentry-component='ViewPromptInteractable']") : null;
	if (!p) return {found: false, text: ""};
	return {found: true, text: (p.textContent || "").trim()};
})()`, articleHelpers, position)
}

func clickDownloadScript(position int) string {
	return fmt.Sprintf(`(() => {%s
	const a = articleAt(%d);
	if (!a) return false;
	const btn = downloadButton(a);
	if (!btn) return false;
	btn.click();
	return true;
})()`, articleHelpers, position)
}

// The upload form shows the same overlay while the image is processed
const uploadOverlayVisibleScript = `(() => {
	const el = document.querySelector("form ` + uploadOverlay + `");
	return el !== null && el.offsetParent !== null;
})()`

const clickGenerateScript = `(() => {
	const btn = Array.from(document.querySelectorAll("button"))
		.find((b) => (b.textContent || "").includes("Generate") && !b.disabled && b.offsetParent !== null);
	if (!btn) return false;
	btn.click();
	return true;
})()`

const readLocalStorageScript = `(() => {
	const out = {};
	for (let i = 0; i < localStorage.length; i++) {
		const k = localStorage.key(i);
		out[k] = localStorage.getItem(k);
	}
	return out;
})()`

// writeLocalStorageScript restores entries from a JSON object literal
func writeLocalStorageScript(entriesJSON string) string {
	return fmt.Sprintf(`(() => {
	const entries = %s;
	for (const k of Object.keys(entries)) localStorage.setItem(k, entries[k]);
	return Object.keys(entries).length;
})()`, entriesJSON)
}
