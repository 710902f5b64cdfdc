package snapshot

// enumerateJS walks the document in four disjoint passes and reports raw
// facts for every rendered candidate. Hidden nodes are skipped before they
// count toward limit. Selector choice, text choice and dedupe happen in Go so
// they can be tested without a browser.
const enumerateJS = `(limit) => {
	const seen = new Set();
	const out = [];
	const passes = [
		['link', 'a[href]'],
		['button', 'button, [role="button"], input[type="submit"], input[type="button"]'],
		['fillable', 'input:not([type="hidden"]):not([type="submit"]):not([type="button"]), textarea'],
		['select', 'select'],
	];

	const segment = (el) => {
		let seg = el.tagName.toLowerCase();
		const classes = Array.from(el.classList || []).filter(c => c && !/^[0-9]/.test(c)).slice(0, 2);
		for (const c of classes) seg += '.' + CSS.escape(c);
		const parent = el.parentElement;
		if (parent) {
			const same = Array.from(parent.children).filter(s => s.tagName === el.tagName);
			if (same.length > 1) seg += ':nth-of-type(' + (same.indexOf(el) + 1) + ')';
		}
		return seg;
	};

	const structuralPath = (el) => {
		const parts = [];
		let node = el;
		while (node && node.nodeType === 1 && parts.length < 4) {
			const tag = node.tagName.toLowerCase();
			if (tag === 'html' || tag === 'body') break;
			parts.unshift(segment(node));
			node = node.parentElement;
		}
		return parts.join(' > ');
	};

	const shown = (rect, style) =>
		rect.width > 0 && rect.height > 0 &&
		style.display !== 'none' && style.visibility !== 'hidden' && style.visibility !== 'collapse' &&
		!(parseFloat(style.opacity) <= 0);

	for (const [pass, query] of passes) {
		if (out.length >= limit) break;
		for (const el of document.querySelectorAll(query)) {
			if (seen.has(el)) continue;
			seen.add(el);

			const rect = el.getBoundingClientRect();
			const style = window.getComputedStyle(el);
			if (!shown(rect, style)) continue;
			if (out.length >= limit) break;

			const tag = el.tagName.toLowerCase();
			let kind = pass;
			if (pass === 'fillable') kind = tag === 'textarea' ? 'textarea' : 'input';

			const testIdAttr = ['data-testid', 'data-test-id', 'data-test'].find(a => el.hasAttribute(a)) || '';

			out.push({
				kind,
				tag,
				id: el.id || '',
				test_id_attr: testIdAttr,
				test_id: testIdAttr ? el.getAttribute(testIdAttr) : '',
				aria_label: el.getAttribute('aria-label') || '',
				placeholder: el.getAttribute('placeholder') || '',
				name: el.getAttribute('name') || '',
				input_type: tag === 'input' ? (el.getAttribute('type') || 'text') : '',
				value: (tag === 'input' && (el.type === 'submit' || el.type === 'button')) ? (el.value || '') : '',
				text: tag === 'select'
					? ((el.options && el.selectedIndex >= 0 && el.options[el.selectedIndex]) ? el.options[el.selectedIndex].text : '')
					: (el.innerText || el.textContent || ''),
				href: pass === 'link' ? (el.href || el.getAttribute('href') || '') : '',
				width: rect.width,
				height: rect.height,
				display: style.display,
				visibility: style.visibility,
				opacity: style.opacity,
				path: structuralPath(el),
			});
		}
	}
	return out;
}`

// readyStateJS reports document.readyState.
const readyStateJS = `() => document.readyState`
