package server

// DashboardHTML is the collector's single-page live view. It connects to
// /ws and shows accepted records and teardown summaries as they arrive.
const DashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Beacon Collector</title>
<style>
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body {
    font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, monospace;
    background: #0d1117; color: #c9d1d9; padding: 20px;
  }
  h1 { color: #58a6ff; margin-bottom: 4px; font-size: 1.5em; }
  .subtitle { color: #8b949e; margin-bottom: 20px; font-size: 0.9em; }
  .status-bar {
    display: flex; gap: 20px; margin-bottom: 20px; padding: 12px 16px;
    background: #161b22; border: 1px solid #30363d; border-radius: 6px;
  }
  .status-item { display: flex; flex-direction: column; }
  .status-label { font-size: 0.75em; color: #8b949e; text-transform: uppercase; }
  .status-value { font-size: 1.1em; font-weight: 600; }
  .status-value.connected { color: #3fb950; }
  .status-value.disconnected { color: #f85149; }
  .stats {
    display: grid; grid-template-columns: repeat(auto-fit, minmax(150px, 1fr));
    gap: 12px; margin-bottom: 20px;
  }
  .stat-card {
    background: #161b22; border: 1px solid #30363d; border-radius: 6px;
    padding: 16px; text-align: center;
  }
  .stat-number { font-size: 2em; font-weight: 700; }
  .stat-number.errors { color: #f85149; }
  .stat-number.modifications { color: #58a6ff; }
  .stat-number.performance { color: #d29922; }
  .stat-number.stuck_points { color: #d2a8ff; }
  .stat-number.summaries { color: #3fb950; }
  .stat-label { font-size: 0.8em; color: #8b949e; margin-top: 4px; }
  .event-log {
    background: #161b22; border: 1px solid #30363d; border-radius: 6px;
    max-height: 500px; overflow-y: auto;
  }
  .event-header {
    padding: 12px 16px; border-bottom: 1px solid #30363d;
    font-weight: 600; color: #58a6ff; position: sticky; top: 0;
    background: #161b22; display: flex; justify-content: space-between;
  }
  .event-row {
    display: grid; grid-template-columns: 110px 130px 200px 1fr;
    padding: 8px 16px; border-bottom: 1px solid #21262d;
    font-size: 0.85em; align-items: center;
    animation: fadeIn 0.3s ease;
  }
  .event-row:hover { background: #1c2128; }
  .badge {
    display: inline-block; padding: 2px 8px; border-radius: 12px;
    font-size: 0.75em; font-weight: 600;
  }
  .badge.errors { background: #3d1f20; color: #f85149; }
  .badge.modifications { background: #1c2b3f; color: #58a6ff; }
  .badge.performance { background: #3a2e14; color: #d29922; }
  .badge.stuck_points { background: #2d2140; color: #d2a8ff; }
  .badge.summary { background: #23312e; color: #3fb950; }
  .empty-state {
    text-align: center; padding: 60px 20px; color: #8b949e;
  }
  .empty-state .icon { font-size: 3em; margin-bottom: 10px; }
  .session-cell { color: #d2a8ff; overflow: hidden; text-overflow: ellipsis; white-space: nowrap; }
  .payload-cell { color: #c9d1d9; overflow: hidden; text-overflow: ellipsis; white-space: nowrap; }
  .time-cell { color: #8b949e; }
  #clear-btn {
    background: #21262d; color: #c9d1d9; border: 1px solid #30363d;
    padding: 4px 12px; border-radius: 4px; cursor: pointer; font-size: 0.8em;
  }
  #clear-btn:hover { background: #30363d; }
  @keyframes fadeIn { from { opacity: 0; transform: translateY(-4px); } to { opacity: 1; transform: translateY(0); } }
</style>
</head>
<body>
<h1>Beacon Collector</h1>
<p class="subtitle">Live telemetry feed</p>

<div class="status-bar">
  <div class="status-item">
    <span class="status-label">Connection</span>
    <span class="status-value disconnected" id="conn-status">Disconnected</span>
  </div>
  <div class="status-item">
    <span class="status-label">Records/sec</span>
    <span class="status-value" id="events-per-sec">0</span>
  </div>
  <div class="status-item">
    <span class="status-label">Sessions</span>
    <span class="status-value" id="sessions">0</span>
  </div>
</div>

<div class="stats">
  <div class="stat-card">
    <div class="stat-number errors" id="stat-errors">0</div>
    <div class="stat-label">Errors</div>
  </div>
  <div class="stat-card">
    <div class="stat-number modifications" id="stat-modifications">0</div>
    <div class="stat-label">Modifications</div>
  </div>
  <div class="stat-card">
    <div class="stat-number performance" id="stat-performance">0</div>
    <div class="stat-label">Performance</div>
  </div>
  <div class="stat-card">
    <div class="stat-number stuck_points" id="stat-stuck_points">0</div>
    <div class="stat-label">Stuck Points</div>
  </div>
  <div class="stat-card">
    <div class="stat-number summaries" id="stat-summaries">0</div>
    <div class="stat-label">Summaries</div>
  </div>
</div>

<div class="event-log">
  <div class="event-header">
    <span>Live Events</span>
    <button id="clear-btn" onclick="clearEvents()">Clear</button>
  </div>
  <div id="events">
    <div class="empty-state">
      <div class="icon">&#128225;</div>
      <p>Waiting for telemetry...</p>
      <p style="margin-top:8px;font-size:0.85em">POST records to /v1/{namespace}/{version}/{category} to see them here</p>
    </div>
  </div>
</div>

<script>
const counts = {errors: 0, modifications: 0, performance: 0, stuck_points: 0, summaries: 0};
let sessions = new Set();
let recentTimestamps = [];
const eventsDiv = document.getElementById('events');
const MAX_EVENTS = 200;

function connect() {
  const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
  const ws = new WebSocket(proto + '//' + location.host + '/ws');

  ws.onopen = () => {
    document.getElementById('conn-status').textContent = 'Connected';
    document.getElementById('conn-status').className = 'status-value connected';
  };

  ws.onclose = () => {
    document.getElementById('conn-status').textContent = 'Disconnected';
    document.getElementById('conn-status').className = 'status-value disconnected';
    setTimeout(connect, 2000);
  };

  ws.onmessage = (e) => {
    addEvent(JSON.parse(e.data));
  };
}

function addEvent(event) {
  const empty = eventsDiv.querySelector('.empty-state');
  if (empty) empty.remove();

  let badge, session, detail;
  if (event.kind === 'summary') {
    counts.summaries++;
    session = event.summary.sessionId;
    badge = '<span class="badge summary">SUMMARY</span>';
    detail = 'duration ' + event.summary.duration + 'ms, completion ' +
      event.summary.completionRate + '%, errors ' + event.summary.errors;
  } else {
    const rec = event.record.record;
    if (rec.category in counts) counts[rec.category]++;
    session = rec.session_id;
    badge = '<span class="badge ' + escHtml(rec.category) + '">' + escHtml(rec.category.toUpperCase()) + '</span>';
    detail = JSON.stringify(rec.payload);
  }
  sessions.add(session);

  const now = Date.now();
  recentTimestamps.push(now);
  recentTimestamps = recentTimestamps.filter(t => now - t < 1000);
  updateStats();

  const row = document.createElement('div');
  row.className = 'event-row';
  const time = new Date(event.time).toLocaleTimeString('en-US', {hour12: false, hour:'2-digit', minute:'2-digit', second:'2-digit'});
  row.innerHTML =
    '<span class="time-cell">' + time + '</span>' +
    '<span>' + badge + '</span>' +
    '<span class="session-cell">' + escHtml(session) + '</span>' +
    '<span class="payload-cell">' + escHtml(detail) + '</span>';

  eventsDiv.insertBefore(row, eventsDiv.firstChild);
  while (eventsDiv.children.length > MAX_EVENTS) {
    eventsDiv.removeChild(eventsDiv.lastChild);
  }
}

function updateStats() {
  for (const k in counts) {
    document.getElementById('stat-' + k).textContent = counts[k];
  }
  document.getElementById('sessions').textContent = sessions.size;
  document.getElementById('events-per-sec').textContent = recentTimestamps.length;
}

function clearEvents() {
  for (const k in counts) counts[k] = 0;
  sessions = new Set(); recentTimestamps = [];
  eventsDiv.innerHTML = '<div class="empty-state"><div class="icon">&#128225;</div><p>Waiting for telemetry...</p></div>';
  updateStats();
}

function escHtml(s) {
  const d = document.createElement('div');
  d.textContent = s;
  return d.innerHTML;
}

connect();
</script>
</body>
</html>`
