package subagent

import (
	"fmt"
	"strings"
)

// SandboxTools maps kernel-callable function names to the tool surface
// names they proxy. Only idempotent read tools are exposed to kernel
// code.
var SandboxTools = map[string]string{
	"search_knowledge": "sb_search",
	"ask_knowledge":    "sb_ask",
	"fetch_url":        "sb_fetch",
	"load_file":        "sb_load",
	"apple_search":     "sb_apple_search",
}

// toolParams gives each stub a named Python parameter list instead of
// bare kwargs, so kernel code gets sensible TypeErrors.
var toolParams = map[string]string{
	"search_knowledge": "query, top_k=10",
	"ask_knowledge":    "question",
	"fetch_url":        "url",
	"load_file":        "path, var_name",
	"apple_search":     "query, framework=None",
}

// LLMStub builds the llm_query / llm_query_batch helper source. The
// batch variant fans out over at most 8 workers, preserves order, and
// encodes per-prompt failures into the result instead of raising.
func LLMStub(callbackURL string) string {
	return fmt.Sprintf(`import urllib.request as _llm_urllib
import json as _llm_json
import concurrent.futures as _llm_futures
def llm_query(prompt):
    _data = _llm_json.dumps({'prompt': prompt}).encode()
    _req = _llm_urllib.Request(
        %q,
        data=_data,
        headers={'Content-Type': 'application/json'},
        method='POST',
    )
    with _llm_urllib.urlopen(_req, timeout=120) as _resp:
        return _llm_json.loads(_resp.read())['result']
def llm_query_batch(prompts):
    def _safe_query(p):
        try:
            return llm_query(p)
        except Exception as _e:
            return '[error] ' + str(_e)
    _workers = min(len(prompts), 8)
    if _workers == 0:
        return []
    with _llm_futures.ThreadPoolExecutor(max_workers=_workers) as _pool:
        return list(_pool.map(_safe_query, prompts))
`, callbackURL+"/llm_query")
}

// ToolStubs builds one forwarding function per SandboxTools entry, all
// routed through a shared _tool_call POST helper.
func ToolStubs(callbackBaseURL string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `import urllib.request as _tc_urllib
import json as _tc_json

def _tool_call(tool_name, **kwargs):
    _data = _tc_json.dumps({'tool_name': tool_name, 'input': kwargs}).encode()
    _req = _tc_urllib.Request(
        %q,
        data=_data,
        headers={'Content-Type': 'application/json'},
        method='POST',
    )
    with _tc_urllib.urlopen(_req, timeout=60) as _resp:
        return _tc_json.loads(_resp.read())['result']

`, callbackBaseURL+"/tool_call")

	// Deterministic order keeps the injected source stable.
	for _, name := range []string{"search_knowledge", "ask_knowledge", "fetch_url", "load_file", "apple_search"} {
		if _, ok := SandboxTools[name]; !ok {
			continue
		}
		params := toolParams[name]
		names := make([]string, 0, 2)
		for _, p := range strings.Split(params, ",") {
			names = append(names, strings.TrimSpace(strings.SplitN(p, "=", 2)[0]))
		}
		args := make([]string, len(names))
		for i, n := range names {
			args[i] = n + "=" + n
		}
		fmt.Fprintf(&b, "def %s(%s):\n    return _tool_call('%s', %s)\n\n", name, params, name, strings.Join(args, ", "))
	}
	return b.String()
}

// SubmitStub builds the submit() helper that terminates a sub-agent
// run by recording the declared outputs.
func SubmitStub() string {
	return `def submit(**kwargs):
    globals()['_sub_agent_result'] = kwargs
    print('submitted: ' + ', '.join(sorted(kwargs)))
`
}
