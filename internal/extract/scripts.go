package extract

// candidatesJS groups profile-looking links by their nearest card container
// and reports name, headline, location and a text snippet per card.
const candidatesJS = `(limit) => {
  const profileRe = /\/(in|u|users?|people|profile|profiles|members?|resume|candidates?|@)[\/\-]?[^\/?#]*/i;
  const cardSel = 'li, article, tr, [class*="card"], [class*="item"], [class*="result"], [class*="user"], [class*="profile"], [class*="member"]';
  const clean = (s, n) => (s || '').replace(/\s+/g, ' ').trim().slice(0, n);
  const pick = (root, sel) => {
    const el = root.querySelector(sel);
    return el ? clean(el.innerText || el.textContent, 120) : '';
  };
  const seen = new Set();
  const out = [];
  for (const a of document.querySelectorAll('a[href]')) {
    if (out.length >= limit) break;
    let href;
    try { href = new URL(a.getAttribute('href'), location.href).href; } catch (e) { continue; }
    const u = new URL(href);
    const githubUser = u.hostname.endsWith('github.com') && /^\/[A-Za-z0-9-]+\/?$/.test(u.pathname);
    if (!githubUser && !profileRe.test(u.pathname)) continue;
    const key = u.origin + u.pathname.replace(/\/$/, '');
    if (seen.has(key)) continue;
    const name = clean(a.innerText || a.getAttribute('aria-label') || a.title, 100);
    if (!name || name.length < 2) continue;
    seen.add(key);
    const card = a.closest(cardSel) || a.parentElement || a;
    const segs = u.pathname.split('/').filter(Boolean);
    out.push({
      name: name,
      profileUrl: href,
      username: segs.length ? decodeURIComponent(segs[segs.length - 1]).replace(/^@/, '') : '',
      title: pick(card, '[class*="title"], [class*="headline"], [class*="position"], [class*="role"], h4, h5'),
      location: pick(card, '[class*="location"], [class*="city"], [class*="geo"], address'),
      summary: clean(card.innerText || card.textContent, 300),
    });
  }
  return out;
}`

// profileLinksJS lists every link target on the page. Links the page marks as
// the owner's own (rel="me", itemprop="url", website/homepage/blog hooks) are
// flagged personal.
const profileLinksJS = `() => {
  const out = [];
  const personal = (a) => {
    const rel = (a.getAttribute('rel') || '').toLowerCase().split(/\s+/);
    if (rel.includes('me') || a.getAttribute('itemprop') === 'url') return true;
    const hooks = [a.getAttribute('class'), a.getAttribute('data-testid'), a.getAttribute('aria-label')]
      .filter(Boolean).join(' ').toLowerCase();
    return /website|homepage|blog|personal-site/.test(hooks);
  };
  for (const a of document.querySelectorAll('a[href]')) {
    try { out.push({ href: new URL(a.getAttribute('href'), location.href).href, personal: personal(a) }); } catch (e) {}
    if (out.length >= 500) break;
  }
  return out;
}`

// profileHeadlineJS reads the main heading and the most bio-like block.
const profileHeadlineJS = `() => {
  const clean = (s, n) => (s || '').replace(/\s+/g, ' ').trim().slice(0, n);
  const h1 = document.querySelector('h1');
  const bio = document.querySelector('[class*="bio"], [class*="about"], [class*="summary"], [class*="headline"], [itemprop="description"]');
  return {
    headline: h1 ? clean(h1.innerText || h1.textContent, 200) : '',
    bio: bio ? clean(bio.innerText || bio.textContent, 600) : '',
  };
}`

// profileMetaJS reads the document title and meta description.
const profileMetaJS = `() => {
  const meta = (sel) => {
    const m = document.querySelector(sel);
    return m ? (m.getAttribute('content') || '').trim() : '';
  };
  return {
    url: location.href,
    title: document.title,
    description: meta('meta[name="description"]') || meta('meta[property="og:description"]'),
  };
}`

// profileContactJS reads mailto and tel links.
const profileContactJS = `() => {
  const emails = [], phones = [];
  for (const a of document.querySelectorAll('a[href^="mailto:"], a[href^="tel:"]')) {
    const h = a.getAttribute('href');
    if (h.startsWith('mailto:')) emails.push(h.slice(7).split('?')[0]);
    else phones.push(h.slice(4));
  }
  return { emails: emails.slice(0, 10), phones: phones.slice(0, 10) };
}`
