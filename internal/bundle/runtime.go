package bundle

// The runtime registers one initializer per module, then initializes modules in
// dependency order. require() inside a module is resolved through that module's
// own specifier map and memoized in the cache.
const runtimeHeader = `(function (modules, order, entry) {
  var cache = {};
  function load(key) {
    var cached = cache[key];
    if (cached) return cached.exports;
    var def = modules[key];
    if (!def) throw new Error("devbundle: module not found: " + key);
    var module = (cache[key] = { id: key, exports: {} });
    def.init.call(module.exports, module, module.exports, function require(spec) {
      if (!Object.prototype.hasOwnProperty.call(def.deps, spec)) {
        throw new Error("devbundle: cannot find module '" + spec + "' from " + key);
      }
      return load(def.deps[spec]);
    });
    return module.exports;
  }
  for (var i = 0; i < order.length; i++) load(order[i]);
  return load(entry);
})({
`

const moduleOpen = `: { deps: %s, init: function (module, exports, require) {
`

const moduleClose = `} },
`

const runtimeFooter = `}, %s, %s);
`

// liveReloadClient connects to the push endpoint, reloads the page when a new
// bundle is published and renders an overlay when a rebuild fails.
const liveReloadClient = `(function (path) {
  if (typeof window === "undefined" || !window.WebSocket) return;
  var overlay = null;
  function hide() {
    if (overlay) { overlay.remove(); overlay = null; }
  }
  function show(message) {
    hide();
    overlay = document.createElement("div");
    overlay.setAttribute("data-devbundle-overlay", "");
    overlay.style.cssText = "position:fixed;inset:0;z-index:2147483647;background:rgba(0,0,0,.85);color:#ff6b6b;padding:24px;overflow:auto;font:14px/1.4 monospace;white-space:pre-wrap";
    overlay.textContent = "Build failed\n\n" + message;
    document.body.appendChild(overlay);
  }
  function connect() {
    var scheme = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(scheme + location.host + path);
    ws.onmessage = function (ev) {
      var msg = JSON.parse(ev.data);
      if (msg.type === "update") {
        ws.send(JSON.stringify({ type: "ack", version: msg.version }));
        hide();
        location.reload();
      } else if (msg.type === "error") {
        show(msg.message);
      }
    };
    ws.onclose = function () { setTimeout(connect, 1000); };
  }
  connect();
})(%s);
`
