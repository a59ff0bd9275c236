package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/a-h/templ"

	"github.com/conneroisu/playground/internal/renderer"
	"github.com/conneroisu/playground/internal/samples"
	"github.com/conneroisu/playground/internal/session"
	"github.com/conneroisu/playground/internal/version"
)

// firstRenderWait bounds how long the index page waits for the initial
// rebuild before rendering whatever output the session has.
const firstRenderWait = 2 * time.Second

type pageState struct {
	SessionID string           `json:"sessionId"`
	Snapshot  session.Snapshot `json:"snapshot"`
	Debounce  int64            `json:"debounceMs"`
}

type pageData struct {
	state   pageState
	samples []samples.Sample
	version string
}

// handleIndex creates a session, seeded from ?data= when present, and
// serves the editor page for it.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	id, store, err := s.sessions.Create(r.URL.Query().Get(session.ShareParam))
	if store == nil {
		writeStoreError(w, err, nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), firstRenderWait)
	_ = store.Wait(ctx)
	cancel()

	data := pageData{
		state: pageState{
			SessionID: id,
			Snapshot:  store.Snapshot(),
			Debounce:  s.cfg.Pipeline.Debounce.Milliseconds(),
		},
		samples: s.catalog.List(),
		version: version.Get().Short(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := editorPage(data).Render(r.Context(), w); err != nil {
		s.logger.Error(r.Context(), err, "Rendering editor page failed")
	}
}

func editorPage(data pageData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		snap := data.state.Snapshot
		parts := []func() error{
			write(w, `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>Template Playground</title><style>`+pageStyle+`</style></head><body>`),
			write(w, `<header><h1>Template Playground</h1><select id="samples">`),
		}
		for _, sample := range data.samples {
			selected := ""
			if sample.Name == snap.ActiveSample {
				selected = " selected"
			}
			parts = append(parts, write(w, `<option value="`+templ.EscapeString(sample.Name)+`"`+selected+`>`+templ.EscapeString(sample.Title)+`</option>`))
		}
		parts = append(parts,
			write(w, `</select><button id="share">Share</button><span class="version">`+templ.EscapeString(data.version)+`</span></header><main>`),
			editor(w, "template", "Template", snap.Template),
			editor(w, "model", "Model", snap.Model),
			editor(w, "data", "Data", snap.Data),
			write(w, `<section class="preview"><h2>Output</h2><div id="error" class="error">`+templ.EscapeString(snap.LastError)+`</div><div id="output">`),
			func() error { return templ.Raw(renderer.Sanitize(snap.DerivedOutput)).Render(ctx, w) },
			write(w, `</div></section></main>`),
			func() error { return templ.JSONScript("playground-state", data.state).Render(ctx, w) },
			write(w, `<script nonce="`+templ.EscapeString(GetNonceFromContext(ctx))+`">`+pageScript+`</script></body></html>`),
		)
		for _, part := range parts {
			if err := part(); err != nil {
				return err
			}
		}
		return nil
	})
}

func editor(w io.Writer, kind, title string, doc session.DocumentState) func() error {
	return write(w, `<section class="editor"><h2>`+title+`</h2>`+
		`<textarea id="`+kind+`" data-kind="`+kind+`" spellcheck="false">`+templ.EscapeString(doc.Buffer)+`</textarea>`+
		`<button data-undo="`+kind+`">Undo</button><button data-redo="`+kind+`">Redo</button></section>`)
}

func write(w io.Writer, s string) func() error {
	return func() error {
		_, err := io.WriteString(w, s)
		return err
	}
}

const pageStyle = `body{font-family:system-ui,sans-serif;margin:0}header{display:flex;gap:1em;align-items:center;padding:.5em 1em;border-bottom:1px solid #ddd}` +
	`main{display:grid;grid-template-columns:1fr 1fr;gap:1em;padding:1em}textarea{width:100%;height:14em;font-family:monospace}` +
	`.error{color:#b00020;white-space:pre-wrap}.version{margin-left:auto;color:#888}`

const pageScript = `(function(){
const state=JSON.parse(document.getElementById("playground-state").textContent);
const base="/api/sessions/"+state.sessionId;
const timers={};
function apply(s){
  for(const k of ["template","model","data"]){
    const el=document.getElementById(k);
    if(document.activeElement!==el){el.value=s[k].buffer;}
  }
  document.getElementById("error").textContent=s.lastError||"";
  if(!s.lastError){document.getElementById("output").innerHTML=s.derivedOutput;}
}
async function send(method,path,body){
  const res=await fetch(base+path,{method:method,body:body});
  const json=await res.json();
  const snap=json.snapshot||json;
  if(snap&&snap.template){apply(snap);}
  return json;
}
document.querySelectorAll("textarea[data-kind]").forEach(function(el){
  el.addEventListener("input",function(){
    const kind=el.dataset.kind;
    clearTimeout(timers[kind]);
    timers[kind]=setTimeout(function(){send("PUT","/documents/"+kind,el.value);},50);
  });
});
document.querySelectorAll("[data-undo]").forEach(function(b){b.onclick=function(){send("POST","/documents/"+b.dataset.undo+"/undo");};});
document.querySelectorAll("[data-redo]").forEach(function(b){b.onclick=function(){send("POST","/documents/"+b.dataset.redo+"/redo");};});
document.getElementById("samples").onchange=function(e){send("POST","/samples/"+encodeURIComponent(e.target.value));};
document.getElementById("share").onclick=async function(){
  const res=await send("GET","/share");
  if(res.link){navigator.clipboard&&navigator.clipboard.writeText(res.link);window.prompt("Share link",res.link);}
};
const proto=location.protocol==="https:"?"wss:":"ws:";
const ws=new WebSocket(proto+"//"+location.host+base+"/ws");
ws.onmessage=function(ev){const msg=JSON.parse(ev.data);if(msg.type==="snapshot"){apply(msg.snapshot);}};
})();`
