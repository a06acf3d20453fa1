package webmonitor

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>ShootOFF Camera Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: sans-serif; background: #1b1b1b; color: #eee; margin: 0; }
        .header { padding: 12px 20px; background: #111; display: flex; justify-content: space-between; align-items: center; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; padding: 16px; }
        .panel { background: #262626; border-radius: 6px; padding: 12px; }
        .panel h2 { margin-top: 0; font-size: 16px; }
        img.feed { width: 100%; background: #000; }
        button { margin: 2px; padding: 6px 10px; }
        .badge { padding: 2px 8px; border-radius: 10px; background: #555; }
        .badge.ok { background: #2e7d32; } .badge.warn { background: #b26a00; }
        ul { list-style: none; padding: 0; max-height: 240px; overflow-y: auto; }
        li { padding: 2px 0; font-family: monospace; }
        .red { color: #ff5252; } .green { color: #69f0ae; } .infrared { color: #ea80fc; }
    </style>
</head>
<body>
    <div class="header">
        <div><strong>ShootOFF Camera Monitor</strong> <span id="camera-name"></span></div>
        <span class="badge" id="status-badge">Waiting for data...</span>
    </div>
    <div class="grid">
        <div class="panel">
            <h2>Live Feed</h2>
            <img class="feed" src="/stream" alt="camera feed">
        </div>
        <div>
            <div class="panel">
                <h2>Controls</h2>
                <button onclick="post('/api/calibration/start')">Calibrate</button>
                <button onclick="post('/api/calibration/stop')">Stop calibration</button>
                <button onclick="toggleDetection()">Toggle detection</button>
                <button onclick="post('/api/recording/start')">Record</button>
                <button onclick="post('/api/recording/stop')">Stop recording</button>
                <button onclick="clearShots()">Clear shots</button>
                <p><a href="/arena" target="_blank">Open arena</a></p>
                <div id="state"></div>
            </div>
            <div class="panel">
                <h2>Shots</h2>
                <ul id="shots"></ul>
            </div>
            <div class="panel">
                <h2>Messages</h2>
                <ul id="messages"></ul>
            </div>
        </div>
    </div>
<script>
let detecting = false;

function post(url, body) {
    return fetch(url, {method: 'POST', headers: {'Content-Type': 'application/json'}, body: body ? JSON.stringify(body) : ''})
        .then(r => r.json()).then(refresh);
}
function toggleDetection() { post('/api/detection', {enabled: !detecting}); }
function clearShots() { fetch('/api/shots', {method: 'DELETE'}).then(refresh); }

function addShot(s) {
    const li = document.createElement('li');
    li.className = s.color;
    li.textContent = s.color + ' (' + s.x.toFixed(1) + ', ' + s.y.toFixed(1) + ')' + (s.injected ? ' injected' : '');
    const list = document.getElementById('shots');
    list.insertBefore(li, list.firstChild);
}
function addMessage(text) {
    const li = document.createElement('li');
    li.textContent = new Date().toLocaleTimeString() + ' ' + text;
    const list = document.getElementById('messages');
    list.insertBefore(li, list.firstChild);
}

function refresh() {
    fetch('/api/status').then(r => r.json()).then(st => {
        detecting = st.camera.detecting;
        document.getElementById('camera-name').textContent = st.camera.name || '';
        const badge = document.getElementById('status-badge');
        badge.textContent = st.camera.streaming ? st.camera.fps.toFixed(1) + ' fps' : 'Not streaming';
        badge.className = 'badge ' + (st.camera.streaming ? 'ok' : 'warn');
        const cal = st.calibration;
        let state = 'Detection: ' + (detecting ? 'on' : 'off');
        state += '<br>Calibration: ' + (cal.auto_calibrating ? 'running' : cal.calibrated ? 'done' : 'none');
        if (cal.bounds) state += '<br>Bounds: ' + cal.bounds.min_x + ',' + cal.bounds.min_y + ' ' + cal.bounds.width + 'x' + cal.bounds.height;
        if (cal.frame_delay_ms !== null) state += '<br>Frame delay: ' + cal.frame_delay_ms + 'ms';
        state += '<br>Recording: ' + (st.camera.recording ? 'yes' : 'no');
        document.getElementById('state').innerHTML = state;
        const list = document.getElementById('shots');
        list.innerHTML = '';
        st.shots.forEach(addShot);
    });
}

const events = new EventSource('/api/events');
events.onmessage = e => {
    const ev = JSON.parse(e.data);
    switch (ev.type) {
    case 'shot': addShot(ev); break;
    case 'error': addMessage(ev.message); break;
    case 'diagnostic': if (ev.shown) addMessage(ev.text); break;
    case 'calibration': addMessage('Calibration ' + ev.state); refresh(); break;
    case 'detection': refresh(); break;
    }
};
refresh();
setInterval(refresh, 5000);
</script>
</body>
</html>
`

const arenaHTML = `<!DOCTYPE html>
<html>
<head>
    <title>ShootOFF Arena</title>
    <style>
        html, body { margin: 0; height: 100%; background: #000; overflow: hidden; }
        img { width: 100vw; height: 100vh; object-fit: fill; display: block; }
    </style>
</head>
<body>
    <img id="background" src="/arena/background.png" alt="">
<script>
function reload() {
    document.getElementById('background').src = '/arena/background.png?t=' + Date.now();
}
const events = new EventSource('/api/events');
events.onmessage = e => {
    const ev = JSON.parse(e.data);
    if (ev.type === 'arena') reload();
};
document.body.ondblclick = () => document.documentElement.requestFullscreen();
</script>
</body>
</html>
`
