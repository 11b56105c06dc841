package main

import "fmt"

// printGuide explains the replay setup end to end.
func printGuide() {
	fmt.Print(`Harbinger replay guide
======================

1. Export a capture

   In your browser's devtools, record the session you want to replay and
   export it as a HAR file (Network tab -> "Export HAR").

2. Serve it

   harbinger serve capture.har --port 8000

   The server indexes every recorded request under
   http://localhost:8000/srv/<hostname>/<path>.

3. Lock the browser down (recommended)

   Run the blackhole and point the browser's proxy at it, so nothing can
   escape to real origins even if interception misses a request:

   harbinger serve capture.har --port 8000 --blackhole-port 8001

   Then start a dedicated browser profile with its HTTP and HTTPS proxy set
   to localhost:8001.

4. Open the capture

   Navigate to http://localhost:8000/harbinger. The page installs the
   interception worker and enters the capture at its primary origin. From
   then on every request the page makes - navigations, scripts, fetches,
   frames - is rewritten onto the local namespace and answered from the
   archive.

5. Edit and re-serve (optional)

   harbinger dump capture.har -o work/
   ...edit files under work/...
   harbinger serve capture.har --dump-path work/

   Files under the dump tree override the recorded bodies, so you can patch
   scripts or markup without touching the archive itself.
`)
}
