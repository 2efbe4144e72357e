package webmonitor

// indexHTML runs the pose model in the browser and posts every frame's poses
// over /ws. The chart, the controls and the alert tone follow the SSE stream.
const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>posewatch</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin: 0; background: #111; color: #eee; font-family: sans-serif; }
        .app { display: grid; grid-template-columns: 640px 1fr; gap: 16px; padding: 16px; }
        .panel { background: #1c1c1c; border-radius: 8px; padding: 12px; }
        #video-wrap { position: relative; width: 640px; height: 480px; }
        #video, #overlay { position: absolute; top: 0; left: 0; width: 640px; height: 480px; }
        #video { transform: scaleX(-1); background: #000; }
        #overlay { transform: scaleX(-1); pointer-events: none; }
        .row { display: flex; gap: 12px; align-items: center; margin: 8px 0; }
        .badge { padding: 2px 8px; border-radius: 4px; background: #333; font-size: 12px; }
        .badge.alert { background: #b00; }
        #chart { width: 100%; height: 320px; }
    </style>
    <script src="https://cdn.jsdelivr.net/npm/@tensorflow/tfjs-core"></script>
    <script src="https://cdn.jsdelivr.net/npm/@tensorflow/tfjs-converter"></script>
    <script src="https://cdn.jsdelivr.net/npm/@tensorflow/tfjs-backend-webgl"></script>
    <script src="https://cdn.jsdelivr.net/npm/@tensorflow-models/pose-detection"></script>
</head>
<body>
<div class="app">
    <div class="panel">
        <div class="row">
            <strong>posewatch</strong>
            <span class="badge" id="status">Starting camera...</span>
            <span class="badge" id="transport">offline</span>
        </div>
        <div id="video-wrap">
            <video id="video" autoplay playsinline muted width="640" height="480"></video>
            <canvas id="overlay" width="640" height="480"></canvas>
        </div>
        <div class="row">
            <label for="model">Model</label>
            <select id="model">
                <option value="SINGLEPOSE_LIGHTNING">MoveNet Lightning</option>
                <option value="SINGLEPOSE_THUNDER">MoveNet Thunder</option>
                <option value="MULTIPOSE_LIGHTNING">MoveNet MultiPose</option>
            </select>
        </div>
    </div>
    <div class="panel">
        <h3>Average Y over the last 5 seconds</h3>
        <canvas id="chart" width="640" height="320"></canvas>
        <div class="row">
            <label for="threshold">Threshold</label>
            <input type="range" id="threshold" min="0" max="480" value="300">
            <span id="threshold-value">300</span>
        </div>
        <div class="row">
            <label><input type="checkbox" id="alert-enabled"> Alert</label>
            <span class="badge" id="alert-badge">idle</span>
        </div>
        <div class="row"><a href="/chart" style="color:#8cf">server chart</a><a href="/metrics" style="color:#8cf">metrics</a></div>
    </div>
</div>
<script>
(function () {
    var LABELS = ["nose", "left_eye", "right_eye", "left_ear", "right_ear"];
    var video = document.getElementById("video");
    var overlay = document.getElementById("overlay").getContext("2d");
    var chartCanvas = document.getElementById("chart");
    var chart = chartCanvas.getContext("2d");
    var slider = document.getElementById("threshold");
    var sliderValue = document.getElementById("threshold-value");
    var toggle = document.getElementById("alert-enabled");
    var alertBadge = document.getElementById("alert-badge");
    var statusBadge = document.getElementById("status");
    var transportBadge = document.getElementById("transport");
    var modelSelect = document.getElementById("model");

    var detector = null;
    var stopped = false;
    var frameNumber = 0;
    var ws = null;
    var audio = null;
    var state = { series: [0, 0, 0, 0, 0], threshold: 300, max: 480 };

    function setStatus(text) { statusBadge.textContent = text; }

    // Tone parameters come from the server's alert event.
    function beep(volume, frequency, durationMs) {
        if (!audio) { audio = new (window.AudioContext || window.webkitAudioContext)(); }
        var osc = audio.createOscillator();
        var gain = audio.createGain();
        osc.type = "sine";
        osc.frequency.value = frequency;
        gain.gain.value = volume;
        osc.connect(gain);
        gain.connect(audio.destination);
        osc.start();
        osc.stop(audio.currentTime + durationMs / 1000);
    }

    function drawChart() {
        var w = chartCanvas.width, h = chartCanvas.height;
        chart.clearRect(0, 0, w, h);
        var slot = w / LABELS.length;
        chart.font = "12px sans-serif";
        for (var i = 0; i < LABELS.length; i++) {
            var v = state.series[i] || 0;
            var bh = Math.min(v / state.max, 1) * (h - 30);
            chart.fillStyle = "#4a9eff";
            chart.fillRect(i * slot + slot * 0.2, h - 20 - bh, slot * 0.6, bh);
            chart.fillStyle = "#ccc";
            chart.fillText(LABELS[i], i * slot + slot * 0.2, h - 5);
            chart.fillText(v.toFixed(0), i * slot + slot * 0.2, h - 24 - bh);
        }
        var ty = h - 20 - Math.min(state.threshold / state.max, 1) * (h - 30);
        chart.strokeStyle = "#f44";
        chart.beginPath();
        chart.moveTo(0, ty);
        chart.lineTo(w, ty);
        chart.stroke();
    }

    function applyControls(c) {
        if (typeof c.threshold === "number") {
            state.threshold = c.threshold;
            slider.value = c.threshold;
            sliderValue.textContent = c.threshold.toFixed(0);
        }
        if (typeof c.max === "number") { slider.max = c.max; state.max = c.max || 480; }
        if (typeof c.min === "number") { slider.min = c.min; }
        if (typeof c.enabled === "boolean") { toggle.checked = c.enabled; }
        drawChart();
    }

    function postJSON(url, body) {
        return fetch(url, {
            method: "POST",
            headers: { "Content-Type": "application/json" },
            body: JSON.stringify(body)
        }).then(function (r) { return r.json(); });
    }

    slider.addEventListener("input", function () {
        sliderValue.textContent = slider.value;
        state.threshold = Number(slider.value);
        drawChart();
    });
    slider.addEventListener("change", function () {
        postJSON("/api/alert", { threshold: Number(slider.value) }).then(applyControls);
    });
    toggle.addEventListener("change", function () {
        // Browsers only allow audio after a user gesture.
        if (!audio) { audio = new (window.AudioContext || window.webkitAudioContext)(); }
        postJSON("/api/alert", { enabled: toggle.checked }).then(applyControls);
    });

    function connectSocket() {
        var proto = location.protocol === "https:" ? "wss://" : "ws://";
        ws = new WebSocket(proto + location.host + "/ws");
        ws.onopen = function () { transportBadge.textContent = "websocket"; };
        ws.onclose = function () {
            transportBadge.textContent = "http";
            ws = null;
            setTimeout(connectSocket, 2000);
        };
        ws.onmessage = function (e) {
            var msg = JSON.parse(e.data);
            if (msg.type === "WELCOME" && msg.payload) { applyControls(msg.payload.controls || {}); }
            if (msg.type === "ERROR" && msg.payload) { console.warn("posewatch:", msg.payload.error); }
        };
    }

    function sendFrame(frame) {
        if (ws && ws.readyState === WebSocket.OPEN) {
            ws.send(JSON.stringify({ type: "FRAME", payload: frame }));
            return;
        }
        postJSON("/api/frames", frame).catch(function () {});
    }

    function connectStream() {
        var es = new EventSource("/api/chart/stream");
        es.addEventListener("chart", function (e) {
            var ev = JSON.parse(e.data).data;
            state.series = ev.series;
            state.threshold = ev.threshold;
            drawChart();
        });
        es.addEventListener("alert", function (e) {
            var a = JSON.parse(e.data).data;
            alertBadge.textContent = "ALERT " + a.average.toFixed(0);
            alertBadge.className = "badge alert";
            setTimeout(function () { alertBadge.textContent = "idle"; alertBadge.className = "badge"; }, 800);
            beep(a.volume, a.frequency, a.duration_ms);
        });
        es.addEventListener("controls", function (e) {
            applyControls(JSON.parse(e.data).data);
        });
    }

    function drawPoses(poses) {
        overlay.clearRect(0, 0, 640, 480);
        overlay.fillStyle = "#0f0";
        poses.forEach(function (p) {
            p.keypoints.forEach(function (k, i) {
                if (!k || (k.score || 0) < 0.3) { return; }
                overlay.fillStyle = i < 5 ? "#ff0" : "#0f0";
                overlay.beginPath();
                overlay.arc(k.x, k.y, 4, 0, 2 * Math.PI);
                overlay.fill();
            });
        });
    }

    function loadModel() {
        var type = poseDetection.movenet.modelType[modelSelect.value];
        setStatus("Loading model...");
        return poseDetection.createDetector(poseDetection.SupportedModels.MoveNet, {
            modelType: type,
            enableTracking: modelSelect.value.indexOf("MULTI") === 0
        }).then(function (d) {
            detector = d;
            setStatus("Running");
        });
    }

    modelSelect.addEventListener("change", function () {
        var old = detector;
        detector = null;
        if (old) { old.dispose(); }
        postJSON("/api/reset", {});
        loadModel().then(function () {
            if (stopped) {
                stopped = false;
                requestAnimationFrame(loop);
            }
        });
    });

    function loop() {
        if (!detector || video.readyState < 2) {
            requestAnimationFrame(loop);
            return;
        }
        detector.estimatePoses(video).then(function (poses) {
            drawPoses(poses);
            frameNumber++;
            sendFrame({
                frame_number: frameNumber,
                timestamp: performance.now(),
                model: modelSelect.value,
                poses: poses.map(function (p) {
                    return {
                        score: p.score || 0,
                        keypoints: p.keypoints.map(function (k) {
                            return { name: k.name, x: k.x, y: k.y, score: k.score };
                        })
                    };
                })
            });
            requestAnimationFrame(loop);
        }).catch(function (err) {
            // Ingestion stops; the server decays the chart on idle ticks.
            console.warn("estimatePoses:", err);
            stopped = true;
            overlay.clearRect(0, 0, 640, 480);
            setStatus("Pose estimation stopped: " + (err && err.message ? err.message : err) + " (pick a model to retry)");
        });
    }

    navigator.mediaDevices.getUserMedia({ video: { width: 640, height: 480 }, audio: false })
        .then(function (stream) {
            video.srcObject = stream;
            return tf.ready();
        })
        .then(loadModel)
        .then(function () { requestAnimationFrame(loop); })
        .catch(function (err) { setStatus("Camera error: " + err.message); });

    fetch("/api/state").then(function (r) { return r.json(); }).then(function (s) { applyControls(s.controls); });
    connectSocket();
    connectStream();
    drawChart();
})();
</script>
</body>
</html>
`
