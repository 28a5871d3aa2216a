package api

import (
	"net/http"
)

const controlUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>ShowSync - Control</title>
    <style>
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: monospace;
            background: #1a1a2e;
            color: #eee;
            height: 100vh;
            display: flex;
            flex-direction: column;
        }
        header {
            background: #16213e;
            padding: 12px 20px;
            border-bottom: 1px solid #0f3460;
            display: flex;
            justify-content: space-between;
            align-items: center;
        }
        header h1 { font-size: 16px; font-weight: normal; }
        #status { padding: 4px 10px; border-radius: 4px; font-size: 12px; }
        #status.connected { background: #1b4332; color: #95d5b2; }
        #status.disconnected { background: #7f1d1d; color: #fca5a5; }
        #status.connecting { background: #78350f; color: #fcd34d; }
        .controls {
            background: #16213e;
            padding: 10px 20px;
            border-bottom: 1px solid #0f3460;
            display: flex;
            gap: 10px;
            align-items: center;
            flex-wrap: wrap;
        }
        .controls button {
            background: #2563eb;
            border: none;
            border-radius: 4px;
            padding: 6px 12px;
            color: #fff;
            font-family: monospace;
            font-size: 12px;
            cursor: pointer;
        }
        .controls button:hover { background: #1d4ed8; }
        .controls button.play { background: #059669; }
        .controls button.stop { background: #dc2626; }
        #now { font-size: 13px; color: #95d5b2; margin-left: 12px; }
        #result { font-size: 12px; padding: 4px 10px; border-radius: 4px; display: none; }
        #result.success { display: inline; background: #1b4332; color: #95d5b2; }
        #result.error { display: inline; background: #7f1d1d; color: #fca5a5; }
        main { flex: 1; overflow: hidden; display: flex; }
        #scenes { width: 320px; overflow-y: auto; padding: 10px; border-right: 1px solid #0f3460; }
        .scene {
            padding: 8px 12px;
            margin-bottom: 4px;
            background: #16213e;
            border-radius: 4px;
            border-left: 3px solid #0f3460;
            font-size: 13px;
            cursor: pointer;
        }
        .scene.active { border-left-color: #059669; background: #12352a; }
        .scene .dur { color: #6b7280; float: right; }
        #events { flex: 1; overflow-y: auto; padding: 10px; }
        .event {
            padding: 6px 12px;
            margin-bottom: 4px;
            background: #16213e;
            border-radius: 4px;
            border-left: 3px solid #0f3460;
            font-size: 12px;
            display: flex;
            gap: 12px;
        }
        .event.level-error { border-left-color: #dc2626; background: #1f1515; }
        .event.level-warning { border-left-color: #d97706; }
        .ts { color: #6b7280; min-width: 90px; }
        .name { color: #60a5fa; min-width: 140px; }
        .msg { color: #9ca3af; }
        footer {
            background: #16213e;
            padding: 8px 20px;
            border-top: 1px solid #0f3460;
            font-size: 11px;
            color: #6b7280;
        }
    </style>
</head>
<body>
    <header>
        <h1>ShowSync</h1>
        <span id="status" class="disconnected">Disconnected</span>
    </header>
    <div class="controls">
        <button class="play" onclick="send('play')">Play</button>
        <button onclick="send('prev')">Prev</button>
        <button onclick="send('next')">Next</button>
        <button class="stop" onclick="send('stop')">Stop</button>
        <span id="now">idle</span>
        <span id="result"></span>
    </div>
    <main>
        <div id="scenes"></div>
        <div id="events"></div>
    </main>
    <footer>
        <span id="online"></span> | <span id="count">0</span> events
    </footer>

    <script>
        const scenesDiv = document.getElementById('scenes');
        const eventsDiv = document.getElementById('events');
        const statusEl = document.getElementById('status');
        const resultEl = document.getElementById('result');
        let eventCount = 0;
        let ws = null;
        let reconnectTimer = null;

        function showResult(ok, message) {
            resultEl.className = ok ? 'success' : 'error';
            resultEl.textContent = message;
            setTimeout(function() { resultEl.className = ''; resultEl.textContent = ''; }, 3000);
        }

        function send(path) {
            fetch('/control/' + path, { method: 'POST' })
                .then(function(res) { return res.json(); })
                .then(function(data) {
                    if (data.ok) showResult(true, data.command);
                    else showResult(false, data.error || 'failed');
                })
                .catch(function() { showResult(false, 'Network error'); });
        }

        function renderState(st) {
            const cur = st.current || {};
            document.getElementById('now').textContent = cur.playing
                ? (cur.index + 1) + '. ' + cur.name + ' ' + Math.floor(cur.elapsed_seconds || 0) + '/' + cur.duration_seconds + 's'
                : 'idle';
            document.getElementById('online').textContent = 'online: ' + (st.online_modules || []).join(', ');
            scenesDiv.innerHTML = '';
            (st.scenes || []).forEach(function(sc) {
                const div = document.createElement('div');
                div.className = 'scene' + (cur.playing && cur.index === sc.index ? ' active' : '');
                div.textContent = (sc.index + 1) + '. ' + sc.name;
                const dur = document.createElement('span');
                dur.className = 'dur';
                dur.textContent = sc.duration_seconds + 's';
                div.appendChild(dur);
                div.onclick = function() { send('play_single/' + sc.index); };
                scenesDiv.appendChild(div);
            });
        }

        function poll() {
            fetch('/state').then(function(res) { return res.json(); }).then(renderState).catch(function() {});
        }

        function renderEvent(e) {
            const div = document.createElement('div');
            div.className = 'event level-' + e.level;
            const ts = document.createElement('span');
            ts.className = 'ts';
            ts.textContent = new Date(e.ts).toLocaleTimeString('en-US', { hour12: false });
            const name = document.createElement('span');
            name.className = 'name';
            name.textContent = e.event;
            const msg = document.createElement('span');
            msg.className = 'msg';
            msg.textContent = e.msg || '';
            div.append(ts, name, msg);
            eventsDiv.appendChild(div);
            eventCount++;
            document.getElementById('count').textContent = eventCount;
            eventsDiv.scrollTop = eventsDiv.scrollHeight;
            while (eventsDiv.children.length > 500) eventsDiv.removeChild(eventsDiv.firstChild);
        }

        function setStatus(status) {
            statusEl.className = status;
            statusEl.textContent = status.charAt(0).toUpperCase() + status.slice(1);
        }

        function connect() {
            if (ws && ws.readyState === WebSocket.OPEN) return;
            setStatus('connecting');
            const protocol = location.protocol === 'https:' ? 'wss:' : 'ws:';
            ws = new WebSocket(protocol + '//' + location.host + '/ws');
            ws.onopen = function() { setStatus('connected'); };
            ws.onmessage = function(msg) {
                try { renderEvent(JSON.parse(msg.data)); } catch (err) { console.error(err); }
            };
            ws.onclose = function() {
                setStatus('disconnected');
                if (!reconnectTimer) {
                    reconnectTimer = setTimeout(function() { reconnectTimer = null; connect(); }, 3000);
                }
            };
            ws.onerror = function() { ws.close(); };
        }

        connect();
        poll();
        setInterval(poll, 1000);
    </script>
</body>
</html>
`

func (s *Server) handleUI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(controlUIHTML))
}
